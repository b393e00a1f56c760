package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/strandlabs/strand/internal/domain/entity"
	"github.com/strandlabs/strand/internal/domain/repository"
	"github.com/strandlabs/strand/internal/infrastructure/persistence/models"
)

// GormVectorStoreRepository is the gorm-backed vector store registry.
type GormVectorStoreRepository struct {
	db *gorm.DB
}

// NewGormVectorStoreRepository creates the repository.
func NewGormVectorStoreRepository(db *gorm.DB) repository.VectorStoreRepository {
	return &GormVectorStoreRepository{db: db}
}

func (r *GormVectorStoreRepository) Save(ctx context.Context, v *entity.VectorStore) error {
	model, err := vectorStoreToModel(v)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return fmt.Errorf("save vector store: %w", err)
	}
	return nil
}

func (r *GormVectorStoreRepository) FindByID(ctx context.Context, id string) (*entity.VectorStore, error) {
	var model models.VectorStoreModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("vector store %s: %w", id, entity.ErrNotFound)
		}
		return nil, fmt.Errorf("find vector store: %w", err)
	}
	return vectorStoreToEntity(&model)
}

func (r *GormVectorStoreRepository) List(ctx context.Context, limit, offset int) ([]*entity.VectorStore, error) {
	var rows []models.VectorStoreModel
	err := r.db.WithContext(ctx).
		Order("created_at desc").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list vector stores: %w", err)
	}

	out := make([]*entity.VectorStore, 0, len(rows))
	for i := range rows {
		v, err := vectorStoreToEntity(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (r *GormVectorStoreRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.VectorStoreModel{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("delete vector store: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("vector store %s: %w", id, entity.ErrNotFound)
	}
	return nil
}

func vectorStoreToModel(v *entity.VectorStore) (*models.VectorStoreModel, error) {
	fileIDs, err := json.Marshal(v.FileIDs)
	if err != nil {
		return nil, fmt.Errorf("encode file ids: %w", err)
	}
	return &models.VectorStoreModel{
		ID:          v.ID,
		Name:        v.Name,
		Description: v.Description,
		FileIDs:     string(fileIDs),
		CreatedAt:   v.CreatedAt,
		UpdatedAt:   v.UpdatedAt,
	}, nil
}

func vectorStoreToEntity(m *models.VectorStoreModel) (*entity.VectorStore, error) {
	v := &entity.VectorStore{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if m.FileIDs != "" && m.FileIDs != "null" {
		if err := json.Unmarshal([]byte(m.FileIDs), &v.FileIDs); err != nil {
			return nil, fmt.Errorf("decode file ids for %s: %w", m.ID, err)
		}
	}
	return v, nil
}
