package bridge

import (
	"sync"
	"time"
)

// Selected identifies the instance whose properties are on display.
type Selected struct {
	Session    string    `json:"session"`
	InstanceID string    `json:"instance_id"`
	SelectedAt time.Time `json:"selected_at"`
}

// Selection holds at most one Selected and announces changes on the hub.
type Selection struct {
	mu      sync.RWMutex
	current Selected
	ok      bool
	hub     *Hub
}

func NewSelection(hub *Hub) *Selection {
	return &Selection{hub: hub}
}

func (s *Selection) Set(sessionName, instanceID string, now time.Time) Selected {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	sel := Selected{Session: sessionName, InstanceID: instanceID, SelectedAt: now.UTC()}

	s.mu.Lock()
	s.current = sel
	s.ok = true
	s.mu.Unlock()

	s.publish(Event{Type: EventSelectionChanged, Session: sessionName, InstanceID: instanceID})
	return sel
}

func (s *Selection) Current() (Selected, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.ok
}

// SessionRemoved clears the selection if it belongs to sessionName.
func (s *Selection) SessionRemoved(sessionName string) bool {
	s.mu.Lock()
	if !s.ok || s.current.Session != sessionName {
		s.mu.Unlock()
		return false
	}
	cleared := s.current
	s.current = Selected{}
	s.ok = false
	s.mu.Unlock()

	s.publish(Event{Type: EventSelectionCleared, Session: cleared.Session, InstanceID: cleared.InstanceID})
	return true
}

// SessionRenamed keeps the selection pointing at a renamed session.
func (s *Selection) SessionRenamed(oldName, newName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ok && s.current.Session == oldName {
		s.current.Session = newName
	}
}

func (s *Selection) publish(ev Event) {
	if s.hub != nil {
		s.hub.Publish(ev)
	}
}
