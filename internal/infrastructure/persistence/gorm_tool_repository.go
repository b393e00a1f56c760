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

// GormToolRepository is the gorm-backed consumer tool store.
type GormToolRepository struct {
	db *gorm.DB
}

// NewGormToolRepository creates the repository.
func NewGormToolRepository(db *gorm.DB) repository.ToolRepository {
	return &GormToolRepository{db: db}
}

func (r *GormToolRepository) Save(ctx context.Context, t *entity.ToolRecord) error {
	model, err := toolToModel(t)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return fmt.Errorf("save tool: %w", err)
	}
	return nil
}

func (r *GormToolRepository) FindByName(ctx context.Context, name string) (*entity.ToolRecord, error) {
	var model models.ToolModel
	if err := r.db.WithContext(ctx).First(&model, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("tool %s: %w", name, entity.ErrNotFound)
		}
		return nil, fmt.Errorf("find tool: %w", err)
	}
	return toolToEntity(&model)
}

func (r *GormToolRepository) List(ctx context.Context, limit, offset int) ([]*entity.ToolRecord, error) {
	var rows []models.ToolModel
	err := r.db.WithContext(ctx).
		Order("name asc").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	out := make([]*entity.ToolRecord, 0, len(rows))
	for i := range rows {
		t, err := toolToEntity(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *GormToolRepository) Delete(ctx context.Context, name string) error {
	result := r.db.WithContext(ctx).Delete(&models.ToolModel{}, "name = ?", name)
	if result.Error != nil {
		return fmt.Errorf("delete tool: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("tool %s: %w", name, entity.ErrNotFound)
	}
	return nil
}

func toolToModel(t *entity.ToolRecord) (*models.ToolModel, error) {
	params, err := json.Marshal(t.Parameters)
	if err != nil {
		return nil, fmt.Errorf("encode parameters: %w", err)
	}
	return &models.ToolModel{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Parameters:  string(params),
		Kind:        t.Kind,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}, nil
}

func toolToEntity(m *models.ToolModel) (*entity.ToolRecord, error) {
	t := &entity.ToolRecord{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Kind:        m.Kind,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if m.Parameters != "" && m.Parameters != "null" {
		if err := json.Unmarshal([]byte(m.Parameters), &t.Parameters); err != nil {
			return nil, fmt.Errorf("decode parameters for %s: %w", m.Name, err)
		}
	}
	return t, nil
}
