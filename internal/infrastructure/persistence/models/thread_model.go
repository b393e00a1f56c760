package models

import "time"

// ThreadModel is the stored form of a thread.
type ThreadModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	MetaData  string `gorm:"type:text"`
	CreatedAt time.Time
}

func (ThreadModel) TableName() string {
	return "threads"
}
