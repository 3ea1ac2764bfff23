// Package bridge fans session and selection events out to the outer
// surfaces and tracks which instance is currently displayed.
package bridge

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slighter12/rojo-bridge-go/logger"
)

type EventType string

const (
	EventSessionConnected    EventType = "session_connected"
	EventSessionDisconnected EventType = "session_disconnected"
	EventSessionRenamed      EventType = "session_renamed"
	EventSessionUpdated      EventType = "session_updated"
	EventSelectionChanged    EventType = "selection_changed"
	EventSelectionCleared    EventType = "selection_cleared"
)

const DefaultBuffer = 64

// Event is the payload sent to SSE and WebSocket subscribers.
type Event struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	Session      string    `json:"session,omitempty"`
	PreviousName string    `json:"previous_name,omitempty"`
	Port         int       `json:"port,omitempty"`
	Cursor       *int64    `json:"cursor,omitempty"`
	InstanceID   string    `json:"instance_id,omitempty"`
	Message      string    `json:"message,omitempty"`
	Error        string    `json:"error,omitempty"`
	Time         time.Time `json:"time"`
}

// Hub delivers every published event to every subscriber. A subscriber whose
// buffer is full misses the event.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Publish stamps ev with a ULID and the current time, then fans it out.
func (h *Hub) Publish(ev Event) Event {
	ev.ID = ulid.Make().String()
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			logger.Warn("Dropping bridge event for slow subscriber", "subscriber", id, "type", ev.Type, "event_id", ev.ID)
		}
	}
	return ev
}

// Subscribe returns a channel of future events. cancel closes it.
func (h *Hub) Subscribe(buffer int) (events <-chan Event, cancel func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	h.next++
	id := h.next
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
