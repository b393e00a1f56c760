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

// GormAssistantRepository is the gorm-backed assistant store.
type GormAssistantRepository struct {
	db *gorm.DB
}

// NewGormAssistantRepository creates the repository.
func NewGormAssistantRepository(db *gorm.DB) repository.AssistantRepository {
	return &GormAssistantRepository{db: db}
}

func (r *GormAssistantRepository) Save(ctx context.Context, a *entity.Assistant) error {
	model, err := assistantToModel(a)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return fmt.Errorf("save assistant: %w", err)
	}
	return nil
}

func (r *GormAssistantRepository) FindByID(ctx context.Context, id string) (*entity.Assistant, error) {
	var model models.AssistantModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("assistant %s: %w", id, entity.ErrNotFound)
		}
		return nil, fmt.Errorf("find assistant: %w", err)
	}
	return assistantToEntity(&model)
}

func (r *GormAssistantRepository) List(ctx context.Context, limit, offset int) ([]*entity.Assistant, error) {
	var rows []models.AssistantModel
	err := r.db.WithContext(ctx).
		Order("created_at desc").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list assistants: %w", err)
	}

	out := make([]*entity.Assistant, 0, len(rows))
	for i := range rows {
		a, err := assistantToEntity(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *GormAssistantRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.AssistantModel{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("delete assistant: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("assistant %s: %w", id, entity.ErrNotFound)
	}
	return nil
}

func assistantToModel(a *entity.Assistant) (*models.AssistantModel, error) {
	tools, err := json.Marshal(a.Tools)
	if err != nil {
		return nil, fmt.Errorf("encode tools: %w", err)
	}
	resources, err := json.Marshal(a.ToolResources)
	if err != nil {
		return nil, fmt.Errorf("encode tool resources: %w", err)
	}
	meta, err := json.Marshal(a.MetaData)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return &models.AssistantModel{
		ID:            a.ID,
		Name:          a.Name,
		Model:         a.Model,
		Instructions:  a.Instructions,
		Tools:         string(tools),
		ToolResources: string(resources),
		MetaData:      string(meta),
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}, nil
}

func assistantToEntity(m *models.AssistantModel) (*entity.Assistant, error) {
	a := &entity.Assistant{
		ID:           m.ID,
		Name:         m.Name,
		Model:        m.Model,
		Instructions: m.Instructions,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if m.Tools != "" && m.Tools != "null" {
		if err := json.Unmarshal([]byte(m.Tools), &a.Tools); err != nil {
			return nil, fmt.Errorf("decode tools for %s: %w", m.ID, err)
		}
	}
	if m.ToolResources != "" && m.ToolResources != "null" {
		if err := json.Unmarshal([]byte(m.ToolResources), &a.ToolResources); err != nil {
			return nil, fmt.Errorf("decode tool resources for %s: %w", m.ID, err)
		}
	}
	if m.MetaData != "" && m.MetaData != "null" {
		if err := json.Unmarshal([]byte(m.MetaData), &a.MetaData); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", m.ID, err)
		}
	}
	return a, nil
}
