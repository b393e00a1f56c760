package models

import "time"

// VectorStoreModel is the stored form of a vector store registry
// record. FileIDs is a JSON-encoded text column.
type VectorStoreModel struct {
	ID          string `gorm:"primaryKey;size:64"`
	Name        string `gorm:"size:128;not null"`
	Description string `gorm:"type:text"`
	FileIDs     string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (VectorStoreModel) TableName() string {
	return "vector_stores"
}
