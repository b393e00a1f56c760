package entity

import "time"

// FileRecord is the registry record of an uploaded file. The bytes
// themselves live in the file worker's storage; the record carries the
// metadata runs and vector stores reference.
type FileRecord struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Purpose   string    `json:"purpose,omitempty"`
	Bytes     int64     `json:"bytes"`
	MimeType  string    `json:"mime_type,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
