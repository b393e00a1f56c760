package entity

import "time"

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunQueued        RunStatus = "queued"
	RunInProgress    RunStatus = "in_progress"
	RunPendingAction RunStatus = "pending_action"
	RunCancelling    RunStatus = "cancelling"
	RunCompleted     RunStatus = "completed"
	RunCancelled     RunStatus = "cancelled"
	RunFailed        RunStatus = "failed"
	RunExpired       RunStatus = "expired"
)

// IsTerminal reports whether no further transition is allowed.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunCompleted, RunCancelled, RunFailed, RunExpired:
		return true
	}
	return false
}

// Run is one execution of an assistant over a thread, possibly spanning
// multiple model turns interleaved with tool calls. Model and
// instructions are snapshotted from the assistant at creation.
type Run struct {
	ID           string
	ThreadID     string
	AssistantID  string
	UserID       string
	Status       RunStatus
	Model        string
	Instructions string
	LastError    string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CancelledAt  *time.Time
	FailedAt     *time.Time
}
