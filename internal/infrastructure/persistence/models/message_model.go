package models

import "time"

// MessageModel is the stored form of one thread message. Content is an
// unbounded text column; the semantic limit is the database's.
type MessageModel struct {
	ID          string    `gorm:"primaryKey;size:64"`
	ThreadID    string    `gorm:"index;size:64;not null"`
	Role        string    `gorm:"size:32;not null"`
	Content     string    `gorm:"type:text"`
	AssistantID string    `gorm:"size:64"`
	RunID       string    `gorm:"index;size:64"`
	ToolID      string    `gorm:"size:64"`
	SenderID    string    `gorm:"size:64"`
	CreatedAt   time.Time `gorm:"index"`
}

func (MessageModel) TableName() string {
	return "messages"
}
