package models

import "time"

// AssistantModel is the stored form of an assistant. Tools,
// ToolResources, and MetaData are JSON-encoded text columns.
type AssistantModel struct {
	ID            string `gorm:"primaryKey;size:64"`
	Name          string `gorm:"size:128"`
	Model         string `gorm:"size:128;not null"`
	Instructions  string `gorm:"type:text"`
	Tools         string `gorm:"type:text"`
	ToolResources string `gorm:"type:text"`
	MetaData      string `gorm:"type:text"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (AssistantModel) TableName() string {
	return "assistants"
}
