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

// GormThreadRepository is the gorm-backed thread store. Delete cascades
// to the thread's messages in one transaction.
type GormThreadRepository struct {
	db *gorm.DB
}

// NewGormThreadRepository creates the repository.
func NewGormThreadRepository(db *gorm.DB) repository.ThreadRepository {
	return &GormThreadRepository{db: db}
}

func (r *GormThreadRepository) Save(ctx context.Context, t *entity.Thread) error {
	meta, err := json.Marshal(t.MetaData)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	model := &models.ThreadModel{
		ID:        t.ID,
		MetaData:  string(meta),
		CreatedAt: t.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return fmt.Errorf("save thread: %w", err)
	}
	return nil
}

func (r *GormThreadRepository) FindByID(ctx context.Context, id string) (*entity.Thread, error) {
	var model models.ThreadModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("thread %s: %w", id, entity.ErrNotFound)
		}
		return nil, fmt.Errorf("find thread: %w", err)
	}

	t := &entity.Thread{ID: model.ID, CreatedAt: model.CreatedAt}
	if model.MetaData != "" && model.MetaData != "null" {
		if err := json.Unmarshal([]byte(model.MetaData), &t.MetaData); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", id, err)
		}
	}
	return t, nil
}

func (r *GormThreadRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&models.ThreadModel{}, "id = ?", id)
		if result.Error != nil {
			return fmt.Errorf("delete thread: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("thread %s: %w", id, entity.ErrNotFound)
		}
		if err := tx.Delete(&models.MessageModel{}, "thread_id = ?", id).Error; err != nil {
			return fmt.Errorf("cascade messages: %w", err)
		}
		return nil
	})
}
