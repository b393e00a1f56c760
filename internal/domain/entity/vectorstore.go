package entity

import "time"

// VectorStore is the registry record of a remotely indexed store.
// Indexing and retrieval happen in the vector worker; the record exists
// so assistants can reference stores by id and callers can manage them.
type VectorStore struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	FileIDs     []string  `json:"file_ids,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
