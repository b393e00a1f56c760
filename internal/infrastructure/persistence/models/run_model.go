package models

import "time"

// RunModel is the stored form of a run with its lifecycle timestamps.
type RunModel struct {
	ID           string `gorm:"primaryKey;size:64"`
	ThreadID     string `gorm:"index;size:64;not null"`
	AssistantID  string `gorm:"size:64;not null"`
	UserID       string `gorm:"size:64"`
	Status       string `gorm:"index;size:32;not null"`
	Model        string `gorm:"size:128"`
	Instructions string `gorm:"type:text"`
	LastError    string `gorm:"type:text"`
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CancelledAt  *time.Time
	FailedAt     *time.Time
}

func (RunModel) TableName() string {
	return "runs"
}
