// Package events carries pipeline progress to observers. Events for one
// question form an append-only, strictly ordered sequence; the stream is
// closed exactly once and emits nothing afterwards.
package events

import "sync"

// Status of one phase at emission time.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusWarning   Status = "warning"
)

// Phase ids, kept stable for consumers.
const (
	PhasePlanning   = "phase1"
	PhaseValidation = "phase1.5"
	PhaseExecution  = "phase2"
	PhaseSynthesis  = "phase3"
)

// PhaseEvent describes the status of one pipeline stage for one attempt.
// Events are transient; the orchestrator retains nothing beyond emission
// order.
type PhaseEvent struct {
	Phase   string `json:"phase"`
	Status  Status `json:"status"`
	Attempt int    `json:"attempt"`
	Payload any    `json:"payload"`
}

// Active builds an active-status event.
func Active(phase string, attempt int) PhaseEvent {
	return PhaseEvent{Phase: phase, Status: StatusActive, Attempt: attempt}
}

// Completed builds a completed-status event with an optional payload.
func Completed(phase string, attempt int, payload any) PhaseEvent {
	return PhaseEvent{Phase: phase, Status: StatusCompleted, Attempt: attempt, Payload: payload}
}

// Warning builds a warning-status event.
func Warning(phase string, attempt int, payload any) PhaseEvent {
	return PhaseEvent{Phase: phase, Status: StatusWarning, Attempt: attempt, Payload: payload}
}

// Sink receives phase events as they occur. Implementations must tolerate
// being called from exactly one goroutine per question.
type Sink interface {
	Emit(event PhaseEvent)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Emit(PhaseEvent) {}

// Recorder collects events in memory, preserving emission order. Used by
// tests and by the audit summary.
type Recorder struct {
	mu     sync.Mutex
	events []PhaseEvent
	closed bool
}

// Emit appends an event. Emissions after Close are dropped.
func (r *Recorder) Emit(event PhaseEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.events = append(r.events, event)
}

// Close seals the recorder.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []PhaseEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PhaseEvent, len(r.events))
	copy(out, r.events)
	return out
}
