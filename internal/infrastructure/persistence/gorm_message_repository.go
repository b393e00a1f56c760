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

// GormMessageRepository is the gorm-backed message store.
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository creates the repository.
func NewGormMessageRepository(db *gorm.DB) repository.MessageRepository {
	return &GormMessageRepository{db: db}
}

func (r *GormMessageRepository) Save(ctx context.Context, m *entity.Message) error {
	if err := r.db.WithContext(ctx).Save(messageToModel(m)).Error; err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

func (r *GormMessageRepository) FindByID(ctx context.Context, id string) (*entity.Message, error) {
	var model models.MessageModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("message %s: %w", id, entity.ErrNotFound)
		}
		return nil, fmt.Errorf("find message: %w", err)
	}
	return messageToEntity(&model), nil
}

// FindByThread returns the trailing `limit` messages in ascending
// created_at order: newest window, oldest first.
func (r *GormMessageRepository) FindByThread(ctx context.Context, threadID string, limit int) ([]*entity.Message, error) {
	var rows []models.MessageModel
	err := r.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("find thread messages: %w", err)
	}

	// Reverse the descending window back to chronological order.
	out := make([]*entity.Message, len(rows))
	for i := range rows {
		out[len(rows)-1-i] = messageToEntity(&rows[i])
	}
	return out, nil
}

func (r *GormMessageRepository) Count(ctx context.Context, threadID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.MessageModel{}).
		Where("thread_id = ?", threadID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

func (r *GormMessageRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.MessageModel{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("delete message: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("message %s: %w", id, entity.ErrNotFound)
	}
	return nil
}

func messageToModel(m *entity.Message) *models.MessageModel {
	return &models.MessageModel{
		ID:          m.ID,
		ThreadID:    m.ThreadID,
		Role:        m.Role,
		Content:     m.Content,
		AssistantID: m.AssistantID,
		RunID:       m.RunID,
		ToolID:      m.ToolID,
		SenderID:    m.SenderID,
		CreatedAt:   m.CreatedAt,
	}
}

func messageToEntity(m *models.MessageModel) *entity.Message {
	return &entity.Message{
		ID:          m.ID,
		ThreadID:    m.ThreadID,
		Role:        m.Role,
		Content:     m.Content,
		AssistantID: m.AssistantID,
		RunID:       m.RunID,
		ToolID:      m.ToolID,
		SenderID:    m.SenderID,
		CreatedAt:   m.CreatedAt,
	}
}
