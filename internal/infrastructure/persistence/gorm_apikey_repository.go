package persistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/strandlabs/strand/internal/domain/entity"
	"github.com/strandlabs/strand/internal/domain/repository"
	"github.com/strandlabs/strand/internal/infrastructure/persistence/models"
)

// GormAPIKeyRepository is the gorm-backed credential store.
type GormAPIKeyRepository struct {
	db *gorm.DB
}

// NewGormAPIKeyRepository creates the repository.
func NewGormAPIKeyRepository(db *gorm.DB) repository.APIKeyRepository {
	return &GormAPIKeyRepository{db: db}
}

func (r *GormAPIKeyRepository) Save(ctx context.Context, k *entity.APIKey) error {
	if err := r.db.WithContext(ctx).Create(apikeyToModel(k)).Error; err != nil {
		return fmt.Errorf("save api key: %w", err)
	}
	return nil
}

func (r *GormAPIKeyRepository) FindByPrefix(ctx context.Context, prefix string) (*entity.APIKey, error) {
	var model models.APIKeyModel
	if err := r.db.WithContext(ctx).First(&model, "prefix = ?", prefix).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("api key prefix %s: %w", prefix, entity.ErrNotFound)
		}
		return nil, fmt.Errorf("find api key: %w", err)
	}
	return apikeyToEntity(&model), nil
}

func (r *GormAPIKeyRepository) ListByUser(ctx context.Context, userID string) ([]*entity.APIKey, error) {
	var rows []models.APIKeyModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}

	out := make([]*entity.APIKey, 0, len(rows))
	for i := range rows {
		out = append(out, apikeyToEntity(&rows[i]))
	}
	return out, nil
}

func (r *GormAPIKeyRepository) Update(ctx context.Context, k *entity.APIKey) error {
	result := r.db.WithContext(ctx).
		Model(&models.APIKeyModel{}).
		Where("id = ?", k.ID).
		Select("*").
		Updates(apikeyToModel(k))
	if result.Error != nil {
		return fmt.Errorf("update api key: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("api key %s: %w", k.ID, entity.ErrNotFound)
	}
	return nil
}

func apikeyToModel(k *entity.APIKey) *models.APIKeyModel {
	return &models.APIKeyModel{
		ID:         k.ID,
		Prefix:     k.Prefix,
		Hash:       k.Hash,
		UserID:     k.UserID,
		Name:       k.Name,
		IsActive:   k.IsActive,
		CreatedAt:  k.CreatedAt,
		LastUsedAt: k.LastUsedAt,
	}
}

func apikeyToEntity(m *models.APIKeyModel) *entity.APIKey {
	return &entity.APIKey{
		ID:         m.ID,
		Prefix:     m.Prefix,
		Hash:       m.Hash,
		UserID:     m.UserID,
		Name:       m.Name,
		IsActive:   m.IsActive,
		CreatedAt:  m.CreatedAt,
		LastUsedAt: m.LastUsedAt,
	}
}
