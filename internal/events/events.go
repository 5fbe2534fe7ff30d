// Package events defines the progress events emitted by a pipeline run and
// the per-run stream that delivers them, in order, to a single consumer.
package events

import "time"

// Phase identifies the pipeline state a run was in when an event was emitted.
type Phase string

const (
	// PhaseReceived indicates the request was accepted but work has not started
	PhaseReceived Phase = "received"
	// PhaseSandboxing indicates a workspace is being provisioned
	PhaseSandboxing Phase = "sandboxing"
	// PhaseCloning indicates the target repository is being cloned
	PhaseCloning Phase = "cloning"
	// PhaseGenerating indicates a change generator is producing edits
	PhaseGenerating Phase = "generating"
	// PhaseApplying indicates generated edits are being written to the workspace
	PhaseApplying Phase = "applying"
	// PhaseCommitting indicates branch creation and commit are in progress
	PhaseCommitting Phase = "committing"
	// PhasePushing indicates the branch is being pushed to the remote
	PhasePushing Phase = "pushing"
	// PhaseOpeningPR indicates the pull request is being created
	PhaseOpeningPR Phase = "opening_pr"
	// PhaseDone is the successful terminal state
	PhaseDone Phase = "done"
	// PhaseFailed is the failure terminal state, reachable from every
	// non-terminal phase
	PhaseFailed Phase = "failed"
)

// Level classifies an event for display and terminal detection.
type Level string

const (
	// LevelInfo carries contextual information (agent selection, fallback notices)
	LevelInfo Level = "info"
	// LevelProgress announces that a phase has started
	LevelProgress Level = "progress"
	// LevelSuccess announces that a phase completed
	LevelSuccess Level = "success"
	// LevelChange reports one applied file edit
	LevelChange Level = "change"
	// LevelWarning reports a non-fatal anomaly
	LevelWarning Level = "warning"
	// LevelError is the failure terminal level; exactly one per failed run
	LevelError Level = "error"
	// LevelDone is the success terminal level; exactly one per successful run
	LevelDone Level = "done"
)

// PipelineEvent is a single entry in a run's event stream. Events are totally
// ordered by Sequence within one run and are never rewritten or reordered.
type PipelineEvent struct {
	// Sequence is a monotonically increasing counter, starting at 1
	Sequence int64 `json:"sequence"`

	// RunID identifies the pipeline run this event belongs to
	RunID string `json:"runId"`

	// Phase is the pipeline state at emission time
	Phase Phase `json:"phase"`

	// Level classifies the event
	Level Level `json:"level"`

	// Message is a human-readable description
	Message string `json:"message"`

	// Timestamp is when the event was emitted
	Timestamp time.Time `json:"timestamp"`

	// Payload carries optional structured data (PR URL, change list,
	// failure kind)
	Payload map[string]any `json:"payload,omitempty"`
}

// Terminal reports whether this event ends the stream. Every run produces
// exactly one terminal event and it is always the last one.
func (e PipelineEvent) Terminal() bool {
	return e.Level == LevelDone || e.Level == LevelError
}
