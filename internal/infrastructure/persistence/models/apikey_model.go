package models

import "time"

// APIKeyModel is the stored form of a caller credential. Only the
// sha256 hash of the secret body is kept.
type APIKeyModel struct {
	ID         string `gorm:"primaryKey;size:64"`
	Prefix     string `gorm:"uniqueIndex;size:8;not null"`
	Hash       string `gorm:"size:64;not null"`
	UserID     string `gorm:"index;size:64"`
	Name       string `gorm:"size:128"`
	IsActive   bool
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

func (APIKeyModel) TableName() string {
	return "api_keys"
}
