package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain/entity"
	"github.com/strandlabs/strand/internal/domain/repository"
)

// runTransitions defines the allowed run status transitions.
// Key = from status, value = set of allowed targets. Status is
// monotonic except the queued → in_progress → pending_action →
// in_progress cycle.
var runTransitions = map[entity.RunStatus]map[entity.RunStatus]bool{
	entity.RunQueued: {
		entity.RunInProgress: true,
		entity.RunCancelling: true,
		entity.RunFailed:     true,
	},
	entity.RunInProgress: {
		entity.RunPendingAction: true,
		entity.RunCancelling:    true,
		entity.RunCompleted:     true,
		entity.RunFailed:        true,
	},
	entity.RunPendingAction: {
		entity.RunInProgress: true,
		entity.RunCancelling: true,
		entity.RunFailed:     true,
		entity.RunExpired:    true,
	},
	entity.RunCancelling: {
		entity.RunCancelled: true,
		entity.RunFailed:    true,
	},
	// Terminal states have no transitions out.
	entity.RunCompleted: {},
	entity.RunCancelled: {},
	entity.RunFailed:    {},
	entity.RunExpired:   {},
}

// RunStateMachine validates and persists run status transitions and
// notifies listeners. One instance is shared process-wide; per-run
// mutable state lives in the orchestrator.
type RunStateMachine struct {
	runs   repository.RunRepository
	logger *zap.Logger

	mu        sync.RWMutex
	listeners []func(run *entity.Run, from, to entity.RunStatus)
}

// NewRunStateMachine creates the transition guard over a run repository.
func NewRunStateMachine(runs repository.RunRepository, logger *zap.Logger) *RunStateMachine {
	return &RunStateMachine{runs: runs, logger: logger}
}

// OnTransition registers a listener invoked after every persisted
// transition.
func (sm *RunStateMachine) OnTransition(fn func(run *entity.Run, from, to entity.RunStatus)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.listeners = append(sm.listeners, fn)
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to entity.RunStatus) bool {
	allowed, ok := runTransitions[from]
	return ok && allowed[to]
}

// Transition validates the move, persists it with the matching
// lifecycle timestamp, updates the in-memory run, and fires listeners.
func (sm *RunStateMachine) Transition(ctx context.Context, run *entity.Run, to entity.RunStatus, lastError string) error {
	from := run.Status
	if !CanTransition(from, to) {
		sm.logger.Error("Run state machine violation",
			zap.String("run_id", run.ID),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
		return fmt.Errorf("%w: %s → %s", entity.ErrInvalidTransition, from, to)
	}

	if err := sm.runs.UpdateStatus(ctx, run.ID, to, lastError); err != nil {
		return fmt.Errorf("persist run status: %w", err)
	}
	run.Status = to
	if lastError != "" {
		run.LastError = lastError
	}

	sm.logger.Debug("Run transition",
		zap.String("run_id", run.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)

	sm.mu.RLock()
	listeners := make([]func(*entity.Run, entity.RunStatus, entity.RunStatus), len(sm.listeners))
	copy(listeners, sm.listeners)
	sm.mu.RUnlock()
	for _, fn := range listeners {
		fn(run, from, to)
	}
	return nil
}
