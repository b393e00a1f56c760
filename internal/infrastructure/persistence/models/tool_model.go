package models

import "time"

// ToolModel is the stored form of a registered consumer tool.
type ToolModel struct {
	ID          string `gorm:"primaryKey;size:64"`
	Name        string `gorm:"uniqueIndex;size:128;not null"`
	Description string `gorm:"type:text"`
	Parameters  string `gorm:"type:text"` // JSON Schema
	Kind        string `gorm:"size:32"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (ToolModel) TableName() string {
	return "tools"
}
