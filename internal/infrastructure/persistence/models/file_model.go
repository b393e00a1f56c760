package models

import "time"

// FileModel is the stored form of a file registry record.
type FileModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	Filename  string `gorm:"size:255;not null"`
	Purpose   string `gorm:"size:64"`
	Bytes     int64
	MimeType  string `gorm:"size:128"`
	CreatedAt time.Time
}

func (FileModel) TableName() string {
	return "files"
}
