package entity

import (
	"encoding/json"
	"time"
)

// ActionStatus is the lifecycle state of a tool invocation record.
type ActionStatus string

const (
	ActionPending    ActionStatus = "pending"
	ActionInProgress ActionStatus = "in_progress"
	ActionCompleted  ActionStatus = "completed"
	ActionFailed     ActionStatus = "failed"
	ActionExpired    ActionStatus = "expired"
)

// Action is the persistent record of a single tool invocation tied to a
// run and a provider-assigned tool_call_id. Within a run, tool_call_id
// is unique. An action is terminal once ProcessedAt is set.
type Action struct {
	ID              string
	RunID           string
	ToolCallID      string
	TurnIndex       int
	Status          ActionStatus
	FunctionName    string
	FunctionArgs    map[string]any
	Result          string
	IsError         bool
	ExpiresAt       time.Time
	TriggeredAt     time.Time
	ProcessedAt     *time.Time
	DecisionPayload string
	ConfidenceScore float64
}

// IsTerminal reports whether the action has been processed.
func (a *Action) IsTerminal() bool {
	return a.ProcessedAt != nil
}

// ArgsJSON serializes the function arguments, "{}" on failure.
func (a *Action) ArgsJSON() string {
	if len(a.FunctionArgs) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(a.FunctionArgs)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
