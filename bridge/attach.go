package bridge

import (
	"github.com/slighter12/rojo-bridge-go/session"
)

// Attach republishes registry events on hub and keeps sel in step with
// disconnects and renames. The returned func detaches.
func Attach(reg *session.Registry, hub *Hub, sel *Selection) (detach func()) {
	return reg.Subscribe(func(ev session.Event) {
		out := Event{Session: ev.Session, Port: ev.Port, Message: ev.Message}
		if ev.Err != nil {
			out.Error = ev.Err.Error()
		}
		switch ev.Kind {
		case session.EventConnected:
			out.Type = EventSessionConnected
		case session.EventDisconnected:
			out.Type = EventSessionDisconnected
		case session.EventRenamed:
			out.Type = EventSessionRenamed
			out.PreviousName = ev.PreviousName
			if sel != nil {
				sel.SessionRenamed(ev.PreviousName, ev.Session)
			}
		case session.EventUpdated:
			out.Type = EventSessionUpdated
			if ev.Err == nil {
				cursor := ev.Cursor
				out.Cursor = &cursor
			}
		default:
			return
		}
		hub.Publish(out)

		// The selection event follows the disconnect it is caused by.
		if ev.Kind == session.EventDisconnected && sel != nil {
			sel.SessionRemoved(ev.Session)
		}
	})
}
