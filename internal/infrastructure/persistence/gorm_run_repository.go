package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/strandlabs/strand/internal/domain/entity"
	"github.com/strandlabs/strand/internal/domain/repository"
	"github.com/strandlabs/strand/internal/infrastructure/persistence/models"
)

// GormRunRepository is the gorm-backed run store.
type GormRunRepository struct {
	db *gorm.DB
}

// NewGormRunRepository creates the repository.
func NewGormRunRepository(db *gorm.DB) repository.RunRepository {
	return &GormRunRepository{db: db}
}

func (r *GormRunRepository) Save(ctx context.Context, run *entity.Run) error {
	if err := r.db.WithContext(ctx).Save(runToModel(run)).Error; err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func (r *GormRunRepository) FindByID(ctx context.Context, id string) (*entity.Run, error) {
	var model models.RunModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("run %s: %w", id, entity.ErrNotFound)
		}
		return nil, fmt.Errorf("find run: %w", err)
	}
	return runToEntity(&model), nil
}

func (r *GormRunRepository) FindByThread(ctx context.Context, threadID string, limit int) ([]*entity.Run, error) {
	var rows []models.RunModel
	err := r.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("find thread runs: %w", err)
	}

	out := make([]*entity.Run, 0, len(rows))
	for i := range rows {
		out = append(out, runToEntity(&rows[i]))
	}
	return out, nil
}

// UpdateStatus persists a status change plus the matching lifecycle
// timestamp. Transition legality is the state machine's job.
func (r *GormRunRepository) UpdateStatus(ctx context.Context, id string, status entity.RunStatus, lastError string) error {
	now := time.Now().UTC()
	updates := map[string]any{"status": string(status)}
	if lastError != "" {
		updates["last_error"] = lastError
	}
	switch status {
	case entity.RunInProgress:
		// First entry only; resumes after pending_action keep the
		// original timestamp.
		r.db.WithContext(ctx).
			Model(&models.RunModel{}).
			Where("id = ? AND started_at IS NULL", id).
			Update("started_at", now)
	case entity.RunCompleted:
		updates["completed_at"] = now
	case entity.RunCancelled:
		updates["cancelled_at"] = now
	case entity.RunFailed, entity.RunExpired:
		updates["failed_at"] = now
	}

	result := r.db.WithContext(ctx).
		Model(&models.RunModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("update run status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("run %s: %w", id, entity.ErrNotFound)
	}
	return nil
}

func runToModel(run *entity.Run) *models.RunModel {
	return &models.RunModel{
		ID:           run.ID,
		ThreadID:     run.ThreadID,
		AssistantID:  run.AssistantID,
		UserID:       run.UserID,
		Status:       string(run.Status),
		Model:        run.Model,
		Instructions: run.Instructions,
		LastError:    run.LastError,
		CreatedAt:    run.CreatedAt,
		StartedAt:    run.StartedAt,
		CompletedAt:  run.CompletedAt,
		CancelledAt:  run.CancelledAt,
		FailedAt:     run.FailedAt,
	}
}

func runToEntity(m *models.RunModel) *entity.Run {
	return &entity.Run{
		ID:           m.ID,
		ThreadID:     m.ThreadID,
		AssistantID:  m.AssistantID,
		UserID:       m.UserID,
		Status:       entity.RunStatus(m.Status),
		Model:        m.Model,
		Instructions: m.Instructions,
		LastError:    m.LastError,
		CreatedAt:    m.CreatedAt,
		StartedAt:    m.StartedAt,
		CompletedAt:  m.CompletedAt,
		CancelledAt:  m.CancelledAt,
		FailedAt:     m.FailedAt,
	}
}
