package entity

import "time"

// Run-event names delivered on the /v1/runs/{id}/events SSE stream.
const (
	EventActionRequired = "action_required"
	EventToolInvoked    = "tool_invoked"
	EventRunEnded       = "run_ended"
	EventCancelled      = "cancelled"
	EventError          = "error"
)

// RunEvent is one named lifecycle event for a run.
type RunEvent struct {
	RunID     string    `json:"run_id"`
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
