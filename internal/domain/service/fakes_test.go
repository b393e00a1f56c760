package service

import (
	"context"
	"sync"
	"time"

	"github.com/strandlabs/strand/internal/domain/entity"
)

// In-memory repositories shared by the service tests. They mirror the
// gorm implementations' contract: entity.ErrNotFound on misses,
// duplicate tool_call_id rejection per run.

type memRunRepo struct {
	mu   sync.Mutex
	runs map[string]*entity.Run
}

func newMemRunRepo() *memRunRepo {
	return &memRunRepo{runs: make(map[string]*entity.Run)}
}

func (r *memRunRepo) Save(ctx context.Context, run *entity.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *run
	r.runs[run.ID] = &cp
	return nil
}

func (r *memRunRepo) FindByID(ctx context.Context, id string) (*entity.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (r *memRunRepo) FindByThread(ctx context.Context, threadID string, limit int) ([]*entity.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Run
	for _, run := range r.runs {
		if run.ThreadID == threadID {
			cp := *run
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRunRepo) UpdateStatus(ctx context.Context, id string, status entity.RunStatus, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return entity.ErrNotFound
	}
	run.Status = status
	if lastError != "" {
		run.LastError = lastError
	}
	return nil
}

type memActionRepo struct {
	mu      sync.Mutex
	actions map[string]*entity.Action
}

func newMemActionRepo() *memActionRepo {
	return &memActionRepo{actions: make(map[string]*entity.Action)}
}

func (r *memActionRepo) Save(ctx context.Context, a *entity.Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.actions {
		if existing.RunID == a.RunID && existing.ToolCallID == a.ToolCallID {
			return entity.ErrDuplicateToolCallID
		}
	}
	cp := *a
	r.actions[a.ID] = &cp
	return nil
}

func (r *memActionRepo) FindByID(ctx context.Context, id string) (*entity.Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actions[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memActionRepo) FindByToolCallID(ctx context.Context, runID, toolCallID string) (*entity.Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.actions {
		if a.RunID == runID && a.ToolCallID == toolCallID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, entity.ErrNotFound
}

func (r *memActionRepo) PendingByRun(ctx context.Context, runID string) ([]*entity.Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Action
	for _, a := range r.actions {
		if a.RunID == runID && a.Status == entity.ActionPending {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memActionRepo) PendingExpiredBefore(ctx context.Context, cutoff time.Time, limit int) ([]*entity.Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Action
	for _, a := range r.actions {
		if a.Status == entity.ActionPending && a.ExpiresAt.Before(cutoff) {
			cp := *a
			out = append(out, &cp)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *memActionRepo) Update(ctx context.Context, a *entity.Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.actions[a.ID]; !ok {
		return entity.ErrNotFound
	}
	cp := *a
	r.actions[a.ID] = &cp
	return nil
}

type memMessageRepo struct {
	mu       sync.Mutex
	messages []*entity.Message
}

func newMemMessageRepo() *memMessageRepo { return &memMessageRepo{} }

func (r *memMessageRepo) Save(ctx context.Context, m *entity.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	r.messages = append(r.messages, &cp)
	return nil
}

func (r *memMessageRepo) FindByID(ctx context.Context, id string) (*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.ID == id {
			cp := *m
			return &cp, nil
		}
	}
	return nil, entity.ErrNotFound
}

func (r *memMessageRepo) FindByThread(ctx context.Context, threadID string, limit int) ([]*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Message
	for _, m := range r.messages {
		if m.ThreadID == threadID {
			cp := *m
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (r *memMessageRepo) Count(ctx context.Context, threadID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, m := range r.messages {
		if m.ThreadID == threadID {
			n++
		}
	}
	return n, nil
}

func (r *memMessageRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, m := range r.messages {
		if m.ID == id {
			r.messages = append(r.messages[:i], r.messages[i+1:]...)
			return nil
		}
	}
	return entity.ErrNotFound
}

type memAssistantRepo struct {
	mu         sync.Mutex
	assistants map[string]*entity.Assistant
	loads      int
}

func newMemAssistantRepo() *memAssistantRepo {
	return &memAssistantRepo{assistants: make(map[string]*entity.Assistant)}
}

func (r *memAssistantRepo) Save(ctx context.Context, a *entity.Assistant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.assistants[a.ID] = &cp
	return nil
}

func (r *memAssistantRepo) FindByID(ctx context.Context, id string) (*entity.Assistant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads++
	a, ok := r.assistants[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memAssistantRepo) List(ctx context.Context, limit, offset int) ([]*entity.Assistant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Assistant
	for _, a := range r.assistants {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memAssistantRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.assistants[id]; !ok {
		return entity.ErrNotFound
	}
	delete(r.assistants, id)
	return nil
}

func (r *memAssistantRepo) loadCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loads
}

type memKeyRepo struct {
	mu   sync.Mutex
	keys map[string]*entity.APIKey // by prefix
}

func newMemKeyRepo() *memKeyRepo {
	return &memKeyRepo{keys: make(map[string]*entity.APIKey)}
}

func (r *memKeyRepo) Save(ctx context.Context, k *entity.APIKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *k
	r.keys[k.Prefix] = &cp
	return nil
}

func (r *memKeyRepo) FindByPrefix(ctx context.Context, prefix string) (*entity.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[prefix]
	if !ok {
		return nil, entity.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (r *memKeyRepo) ListByUser(ctx context.Context, userID string) ([]*entity.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.APIKey
	for _, k := range r.keys {
		if k.UserID == userID {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memKeyRepo) Update(ctx context.Context, k *entity.APIKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[k.Prefix]; !ok {
		return entity.ErrNotFound
	}
	cp := *k
	r.keys[k.Prefix] = &cp
	return nil
}

// recordingSink captures published chunks and events.
type recordingSink struct {
	mu     sync.Mutex
	chunks []entity.StreamChunk
	events []entity.RunEvent
}

func (s *recordingSink) Publish(ctx context.Context, runID string, chunk entity.StreamChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunk)
}

func (s *recordingSink) PublishEvent(ctx context.Context, runID string, event entity.RunEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) eventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}
