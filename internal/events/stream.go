package events

import (
	"sync"
	"time"
)

// streamBuffer is the channel capacity for a run's event stream. A pipeline
// run emits a few dozen events at most, so a slow consumer rarely blocks the
// producer.
const streamBuffer = 64

// Stream is the ordered, append-only event channel for one pipeline run.
//
// It is single-producer, single-consumer: the orchestrator goroutine for the
// run is the only writer, and the transport adapter is the only reader. The
// consumer may disconnect at any time by calling Detach; after that, emits
// become no-ops so the producer can run its remaining work (and cleanup) to
// completion without blocking.
type Stream struct {
	runID string
	ch    chan PipelineEvent

	mu       sync.Mutex
	seq      int64
	closed   bool
	detached bool

	// detach is closed by Detach so an Emit blocked on a full channel
	// unblocks immediately when the consumer goes away.
	detach chan struct{}
}

// NewStream creates an event stream for the run with the given ID.
func NewStream(runID string) *Stream {
	return &Stream{
		runID:  runID,
		ch:     make(chan PipelineEvent, streamBuffer),
		detach: make(chan struct{}),
	}
}

// RunID returns the pipeline run ID this stream belongs to.
func (s *Stream) RunID() string {
	return s.runID
}

// Events returns the receive side of the stream. The channel is closed after
// the terminal event has been delivered.
func (s *Stream) Events() <-chan PipelineEvent {
	return s.ch
}

// Emit appends an event to the stream, assigning the next sequence number.
// Emit must only be called from the producer goroutine. After Detach or
// Close it is a no-op.
func (s *Stream) Emit(phase Phase, level Level, message string, payload map[string]any) {
	s.mu.Lock()
	if s.closed || s.detached {
		s.mu.Unlock()
		return
	}
	s.seq++
	ev := PipelineEvent{
		Sequence:  s.seq,
		RunID:     s.runID,
		Phase:     phase,
		Level:     level,
		Message:   message,
		Timestamp: time.Now(),
		Payload:   payload,
	}
	s.mu.Unlock()

	select {
	case s.ch <- ev:
	case <-s.detach:
	}
}

// Close ends the stream. It must be called exactly once by the producer,
// after the terminal event has been emitted. Safe to call after Detach.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Detach marks the consumer as gone. Buffered events are abandoned and all
// subsequent emits are dropped; the producer never blocks on a detached
// stream. Idempotent.
func (s *Stream) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached {
		return
	}
	s.detached = true
	close(s.detach)
}

// Detached reports whether the consumer has disconnected.
func (s *Stream) Detached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detached
}

// Convenience emitters. These keep orchestrator call sites terse.

// Info emits an informational event.
func (s *Stream) Info(phase Phase, message string) {
	s.Emit(phase, LevelInfo, message, nil)
}

// Progress emits a phase-started event.
func (s *Stream) Progress(phase Phase, message string) {
	s.Emit(phase, LevelProgress, message, nil)
}

// Success emits a phase-completed event.
func (s *Stream) Success(phase Phase, message string) {
	s.Emit(phase, LevelSuccess, message, nil)
}

// Change emits one applied-edit event.
func (s *Stream) Change(message string) {
	s.Emit(PhaseApplying, LevelChange, message, nil)
}

// Warning emits a non-fatal anomaly event.
func (s *Stream) Warning(phase Phase, message string) {
	s.Emit(phase, LevelWarning, message, nil)
}

// Error emits the failure terminal event carrying the failure kind.
func (s *Stream) Error(phase Phase, kind, message string) {
	s.Emit(PhaseFailed, LevelError, message, map[string]any{
		"errorKind": kind,
		"phase":     string(phase),
	})
}

// Done emits the success terminal event.
func (s *Stream) Done(message string, payload map[string]any) {
	s.Emit(PhaseDone, LevelDone, message, payload)
}
