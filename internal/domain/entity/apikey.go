package entity

import "time"

// APIKey is the stored form of a caller credential. The plaintext key
// is {Prefix}{urlsafe-base64 secret}; only the sha256 of the secret is
// kept. Prefix is the first 8 characters and is unique, so lookup is a
// single indexed read.
type APIKey struct {
	ID         string
	Prefix     string
	Hash       string
	UserID     string
	Name       string
	IsActive   bool
	CreatedAt  time.Time
	LastUsedAt *time.Time
}
