package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/strandlabs/strand/internal/domain/entity"
	"github.com/strandlabs/strand/internal/domain/repository"
	"github.com/strandlabs/strand/internal/infrastructure/persistence/models"
)

// GormActionRepository is the gorm-backed action store.
type GormActionRepository struct {
	db *gorm.DB
}

// NewGormActionRepository creates the repository.
func NewGormActionRepository(db *gorm.DB) repository.ActionRepository {
	return &GormActionRepository{db: db}
}

func (r *GormActionRepository) Save(ctx context.Context, a *entity.Action) error {
	model, err := actionToModel(a)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("action %s/%s: %w", a.RunID, a.ToolCallID, entity.ErrDuplicateToolCallID)
		}
		return fmt.Errorf("save action: %w", err)
	}
	return nil
}

func (r *GormActionRepository) FindByID(ctx context.Context, id string) (*entity.Action, error) {
	var model models.ActionModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("action %s: %w", id, entity.ErrNotFound)
		}
		return nil, fmt.Errorf("find action: %w", err)
	}
	return actionToEntity(&model)
}

func (r *GormActionRepository) FindByToolCallID(ctx context.Context, runID, toolCallID string) (*entity.Action, error) {
	var model models.ActionModel
	err := r.db.WithContext(ctx).
		First(&model, "run_id = ? AND tool_call_id = ?", runID, toolCallID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("action %s/%s: %w", runID, toolCallID, entity.ErrNotFound)
		}
		return nil, fmt.Errorf("find action by tool_call_id: %w", err)
	}
	return actionToEntity(&model)
}

func (r *GormActionRepository) PendingByRun(ctx context.Context, runID string) ([]*entity.Action, error) {
	var rows []models.ActionModel
	err := r.db.WithContext(ctx).
		Where("run_id = ? AND status = ?", runID, string(entity.ActionPending)).
		Order("triggered_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("find pending actions: %w", err)
	}
	return actionsToEntities(rows)
}

func (r *GormActionRepository) PendingExpiredBefore(ctx context.Context, cutoff time.Time, limit int) ([]*entity.Action, error) {
	var rows []models.ActionModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", string(entity.ActionPending), cutoff).
		Order("expires_at asc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("find expired actions: %w", err)
	}
	return actionsToEntities(rows)
}

func (r *GormActionRepository) Update(ctx context.Context, a *entity.Action) error {
	model, err := actionToModel(a)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).
		Model(&models.ActionModel{}).
		Where("id = ?", a.ID).
		Select("*").
		Updates(model)
	if result.Error != nil {
		return fmt.Errorf("update action: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("action %s: %w", a.ID, entity.ErrNotFound)
	}
	return nil
}

func actionsToEntities(rows []models.ActionModel) ([]*entity.Action, error) {
	out := make([]*entity.Action, 0, len(rows))
	for i := range rows {
		a, err := actionToEntity(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func actionToModel(a *entity.Action) (*models.ActionModel, error) {
	args, err := json.Marshal(a.FunctionArgs)
	if err != nil {
		return nil, fmt.Errorf("encode function args: %w", err)
	}
	return &models.ActionModel{
		ID:              a.ID,
		RunID:           a.RunID,
		ToolCallID:      a.ToolCallID,
		TurnIndex:       a.TurnIndex,
		Status:          string(a.Status),
		FunctionName:    a.FunctionName,
		FunctionArgs:    string(args),
		Result:          a.Result,
		IsError:         a.IsError,
		ExpiresAt:       a.ExpiresAt,
		TriggeredAt:     a.TriggeredAt,
		ProcessedAt:     a.ProcessedAt,
		DecisionPayload: a.DecisionPayload,
		ConfidenceScore: a.ConfidenceScore,
	}, nil
}

func actionToEntity(m *models.ActionModel) (*entity.Action, error) {
	a := &entity.Action{
		ID:              m.ID,
		RunID:           m.RunID,
		ToolCallID:      m.ToolCallID,
		TurnIndex:       m.TurnIndex,
		Status:          entity.ActionStatus(m.Status),
		FunctionName:    m.FunctionName,
		Result:          m.Result,
		IsError:         m.IsError,
		ExpiresAt:       m.ExpiresAt,
		TriggeredAt:     m.TriggeredAt,
		ProcessedAt:     m.ProcessedAt,
		DecisionPayload: m.DecisionPayload,
		ConfidenceScore: m.ConfidenceScore,
	}
	if m.FunctionArgs != "" && m.FunctionArgs != "null" {
		if err := json.Unmarshal([]byte(m.FunctionArgs), &a.FunctionArgs); err != nil {
			return nil, fmt.Errorf("decode function args for %s: %w", m.ID, err)
		}
	}
	return a, nil
}

// isUniqueViolation matches the driver-specific duplicate-key errors
// for both sqlite and postgres.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
