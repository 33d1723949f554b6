package events

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"datachat/internal/logging"
)

// Stream frames events onto an open connection in the server-sent-events
// wire format (event name, JSON data line, blank-line delimiter), which
// consumers parse incrementally one event at a time. A Stream belongs to
// exactly one question and is closed exactly once; writes after Close are
// rejected.
type Stream struct {
	mu     sync.Mutex
	w      io.Writer
	flush  func()
	closed bool
}

// ErrClosed is returned for any write after Close.
var ErrClosed = fmt.Errorf("events: stream closed")

// NewStream wraps a writer. When w is an http.Flusher each event is flushed
// immediately, so consumers never wait on buffering.
func NewStream(w io.Writer) *Stream {
	s := &Stream{w: w, flush: func() {}}
	if f, ok := w.(http.Flusher); ok {
		s.flush = f.Flush
	}
	return s
}

// Emit frames one phase event. Write errors are logged, not propagated:
// a consumer hanging up must not fail the pipeline.
func (s *Stream) Emit(event PhaseEvent) {
	if err := s.Send("phase", event); err != nil && err != ErrClosed {
		logging.Error(logging.CategoryEvents, "emit failed: %v", err)
	}
}

// Send frames an arbitrary named event with a JSON payload.
func (s *Stream) Send(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: marshal %s payload: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return fmt.Errorf("events: write %s: %w", name, err)
	}
	s.flush()
	return nil
}

// Close seals the stream. Safe to call more than once; only the first call
// has any effect.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
