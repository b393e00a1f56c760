package repository

import (
	"context"
	"time"

	"github.com/strandlabs/strand/internal/domain/entity"
)

// AssistantRepository persists assistant configurations.
type AssistantRepository interface {
	Save(ctx context.Context, a *entity.Assistant) error
	FindByID(ctx context.Context, id string) (*entity.Assistant, error)
	List(ctx context.Context, limit, offset int) ([]*entity.Assistant, error)
	Delete(ctx context.Context, id string) error
}

// ThreadRepository persists threads. Delete cascades to messages.
type ThreadRepository interface {
	Save(ctx context.Context, t *entity.Thread) error
	FindByID(ctx context.Context, id string) (*entity.Thread, error)
	Delete(ctx context.Context, id string) error
}

// MessageRepository persists thread messages.
type MessageRepository interface {
	Save(ctx context.Context, m *entity.Message) error
	FindByID(ctx context.Context, id string) (*entity.Message, error)
	// FindByThread returns the trailing `limit` messages of a thread in
	// created_at ascending order.
	FindByThread(ctx context.Context, threadID string, limit int) ([]*entity.Message, error)
	Count(ctx context.Context, threadID string) (int64, error)
	Delete(ctx context.Context, id string) error
}

// RunRepository persists runs and their status transitions.
type RunRepository interface {
	Save(ctx context.Context, r *entity.Run) error
	FindByID(ctx context.Context, id string) (*entity.Run, error)
	FindByThread(ctx context.Context, threadID string, limit int) ([]*entity.Run, error)
	// UpdateStatus persists a status change plus the matching lifecycle
	// timestamp (started_at, completed_at, ...). It does not validate
	// the transition; callers go through the run state machine first.
	UpdateStatus(ctx context.Context, id string, status entity.RunStatus, lastError string) error
}

// ActionRepository persists tool invocation records.
type ActionRepository interface {
	Save(ctx context.Context, a *entity.Action) error
	FindByID(ctx context.Context, id string) (*entity.Action, error)
	FindByToolCallID(ctx context.Context, runID, toolCallID string) (*entity.Action, error)
	PendingByRun(ctx context.Context, runID string) ([]*entity.Action, error)
	// PendingExpiredBefore returns pending actions whose expires_at is
	// before the cutoff, for the expiry sweeper.
	PendingExpiredBefore(ctx context.Context, cutoff time.Time, limit int) ([]*entity.Action, error)
	Update(ctx context.Context, a *entity.Action) error
}

// ToolRepository persists registered consumer tool definitions.
type ToolRepository interface {
	Save(ctx context.Context, t *entity.ToolRecord) error
	FindByName(ctx context.Context, name string) (*entity.ToolRecord, error)
	List(ctx context.Context, limit, offset int) ([]*entity.ToolRecord, error)
	Delete(ctx context.Context, name string) error
}

// VectorStoreRepository persists vector store registry records.
type VectorStoreRepository interface {
	Save(ctx context.Context, v *entity.VectorStore) error
	FindByID(ctx context.Context, id string) (*entity.VectorStore, error)
	List(ctx context.Context, limit, offset int) ([]*entity.VectorStore, error)
	Delete(ctx context.Context, id string) error
}

// FileRepository persists file registry records.
type FileRepository interface {
	Save(ctx context.Context, f *entity.FileRecord) error
	FindByID(ctx context.Context, id string) (*entity.FileRecord, error)
	List(ctx context.Context, limit, offset int) ([]*entity.FileRecord, error)
	Delete(ctx context.Context, id string) error
}

// APIKeyRepository persists caller credentials, indexed by prefix.
type APIKeyRepository interface {
	Save(ctx context.Context, k *entity.APIKey) error
	FindByPrefix(ctx context.Context, prefix string) (*entity.APIKey, error)
	ListByUser(ctx context.Context, userID string) ([]*entity.APIKey, error)
	Update(ctx context.Context, k *entity.APIKey) error
}
