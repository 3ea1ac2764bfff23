package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/slighter12/rojo-bridge-go/bridge"
)

var errStreamClosed = errors.New("event stream is closed")

// eventStream writes SSE frames to one response.
type eventStream struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
	closed  bool
}

func newEventStream(w http.ResponseWriter, f http.Flusher) *eventStream {
	return &eventStream{writer: w, flusher: f}
}

// Send writes ev as one frame named after its type, with the ULID as id.
func (t *eventStream) Send(ev bridge.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE data: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errStreamClosed
	}
	frame := fmt.Sprintf("id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data)
	if err := t.writeLocked(frame); err != nil {
		return fmt.Errorf("failed to write SSE message: %w", err)
	}
	return nil
}

// SendComment writes one SSE comment frame (":" prefixed lines).
func (t *eventStream) SendComment(comment string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errStreamClosed
	}

	comment = strings.ReplaceAll(comment, "\r\n", "\n")
	comment = strings.ReplaceAll(comment, "\r", "\n")
	comment = strings.ReplaceAll(comment, "\n", "\n: ")
	if err := t.writeLocked(fmt.Sprintf(": %s\n\n", comment)); err != nil {
		return fmt.Errorf("failed to write SSE comment: %w", err)
	}
	return nil
}

func (t *eventStream) writeLocked(payload string) error {
	if _, err := t.writer.Write([]byte(payload)); err != nil {
		t.closed = true
		return err
	}
	t.flusher.Flush()
	return nil
}

func (t *eventStream) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}
