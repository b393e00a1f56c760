package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain/entity"
	"github.com/strandlabs/strand/internal/domain/repository"
)

// Sweeper expires consumer-side actions whose deadline passed without a
// submitted result: the action moves to expired and its parent run to
// failed with a diagnostic.
type Sweeper struct {
	actions  repository.ActionRepository
	runs     repository.RunRepository
	sm       *RunStateMachine
	bus      StreamSink
	interval time.Duration
	batch    int
	logger   *zap.Logger
}

// NewSweeper creates the periodic expiry task (default every 15s,
// batches of 100).
func NewSweeper(actions repository.ActionRepository, runs repository.RunRepository, sm *RunStateMachine, bus StreamSink, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Sweeper{
		actions:  actions,
		runs:     runs,
		sm:       sm,
		bus:      bus,
		interval: interval,
		batch:    100,
		logger:   logger,
	}
}

// Run loops until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("Action sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep processes one batch of overdue actions.
func (s *Sweeper) Sweep(ctx context.Context) error {
	overdue, err := s.actions.PendingExpiredBefore(ctx, time.Now(), s.batch)
	if err != nil {
		return fmt.Errorf("query overdue actions: %w", err)
	}

	for _, action := range overdue {
		now := time.Now()
		action.Status = entity.ActionExpired
		action.ProcessedAt = &now
		if err := s.actions.Update(ctx, action); err != nil {
			s.logger.Error("Failed to expire action",
				zap.String("action_id", action.ID),
				zap.Error(err),
			)
			continue
		}

		run, err := s.runs.FindByID(ctx, action.RunID)
		if err != nil {
			s.logger.Error("Expired action has no run",
				zap.String("action_id", action.ID),
				zap.Error(err),
			)
			continue
		}
		if run.Status.IsTerminal() {
			continue
		}

		reason := fmt.Sprintf("action %s (%s) expired after %s",
			action.ID, action.FunctionName, action.ExpiresAt.Format(time.RFC3339))
		if err := s.sm.Transition(ctx, run, entity.RunFailed, reason); err != nil {
			s.logger.Error("Failed to fail run for expired action",
				zap.String("run_id", run.ID),
				zap.Error(err),
			)
			continue
		}
		s.bus.PublishEvent(ctx, run.ID, entity.RunEvent{
			RunID: run.ID, Type: entity.EventError, Data: reason, Timestamp: now,
		})
		s.logger.Info("Expired pending action",
			zap.String("action_id", action.ID),
			zap.String("run_id", run.ID),
			zap.String("tool", action.FunctionName),
		)
	}
	return nil
}
