package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain/entity"
	"github.com/strandlabs/strand/internal/domain/repository"
)

// KeyPrefixLen is the unique lookup prefix length of an API key.
const KeyPrefixLen = 8

// KeyService mints and verifies caller credentials. Keys have the form
// {prefix}{urlsafe-base64 secret}; only the secret's sha256 is stored.
type KeyService struct {
	keys   repository.APIKeyRepository
	logger *zap.Logger
}

// NewKeyService creates the credential service.
func NewKeyService(keys repository.APIKeyRepository, logger *zap.Logger) *KeyService {
	return &KeyService{keys: keys, logger: logger}
}

// Mint creates a key for a user and returns the plaintext exactly once.
func (s *KeyService) Mint(ctx context.Context, userID, name string) (string, *entity.APIKey, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", nil, fmt.Errorf("generate key secret: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(secret)
	prefix := encoded[:KeyPrefixLen]
	body := encoded[KeyPrefixLen:]

	key := &entity.APIKey{
		ID:        uuid.NewString(),
		Prefix:    prefix,
		Hash:      hashSecret(body),
		UserID:    userID,
		Name:      name,
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	if err := s.keys.Save(ctx, key); err != nil {
		return "", nil, fmt.Errorf("persist api key: %w", err)
	}
	return prefix + body, key, nil
}

// Verify resolves a plaintext key to its record: prefix lookup, hash
// comparison, active check. LastUsedAt is updated best-effort.
func (s *KeyService) Verify(ctx context.Context, raw string) (*entity.APIKey, error) {
	if len(raw) <= KeyPrefixLen {
		return nil, entity.ErrKeyInvalid
	}
	prefix, body := raw[:KeyPrefixLen], raw[KeyPrefixLen:]

	key, err := s.keys.FindByPrefix(ctx, prefix)
	if err != nil {
		return nil, entity.ErrKeyInvalid
	}
	if subtle.ConstantTimeCompare([]byte(key.Hash), []byte(hashSecret(body))) != 1 {
		return nil, entity.ErrKeyInvalid
	}
	if !key.IsActive {
		return nil, entity.ErrKeyRevoked
	}

	now := time.Now()
	key.LastUsedAt = &now
	if err := s.keys.Update(ctx, key); err != nil {
		s.logger.Debug("Failed to stamp key usage", zap.Error(err))
	}
	return key, nil
}

// Revoke deactivates a key; verification fails from then on.
func (s *KeyService) Revoke(ctx context.Context, prefix string) error {
	key, err := s.keys.FindByPrefix(ctx, prefix)
	if err != nil {
		return err
	}
	key.IsActive = false
	return s.keys.Update(ctx, key)
}

func hashSecret(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}
