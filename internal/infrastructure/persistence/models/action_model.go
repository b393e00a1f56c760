package models

import "time"

// ActionModel is the stored form of a tool invocation record. The
// composite unique index enforces tool_call_id uniqueness within a run.
type ActionModel struct {
	ID              string `gorm:"primaryKey;size:64"`
	RunID           string `gorm:"uniqueIndex:idx_run_toolcall;index;size:64;not null"`
	ToolCallID      string `gorm:"uniqueIndex:idx_run_toolcall;size:128;not null"`
	TurnIndex       int
	Status          string `gorm:"index;size:32;not null"`
	FunctionName    string `gorm:"size:128"`
	FunctionArgs    string `gorm:"type:text"`
	Result          string `gorm:"type:text"`
	IsError         bool
	ExpiresAt       time.Time `gorm:"index"`
	TriggeredAt     time.Time
	ProcessedAt     *time.Time
	DecisionPayload string `gorm:"type:text"`
	ConfidenceScore float64
}

func (ActionModel) TableName() string {
	return "actions"
}
