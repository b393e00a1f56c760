package service

import (
	"context"
	"errors"
	"testing"

	"github.com/strandlabs/strand/internal/domain/entity"
)

func newTestRun(repo *memRunRepo, status entity.RunStatus) *entity.Run {
	run := &entity.Run{ID: "run-1", ThreadID: "t-1", AssistantID: "a-1", Status: status}
	repo.Save(context.Background(), run)
	return run
}

// === Valid paths ===

func TestRunStateMachine_ValidPaths(t *testing.T) {
	tests := []struct {
		name string
		path []entity.RunStatus
	}{
		{
			name: "queued -> in_progress -> completed",
			path: []entity.RunStatus{entity.RunInProgress, entity.RunCompleted},
		},
		{
			name: "tool pause cycle",
			path: []entity.RunStatus{entity.RunInProgress, entity.RunPendingAction, entity.RunInProgress, entity.RunCompleted},
		},
		{
			name: "cancel mid-stream",
			path: []entity.RunStatus{entity.RunInProgress, entity.RunCancelling, entity.RunCancelled},
		},
		{
			name: "cancel while queued",
			path: []entity.RunStatus{entity.RunCancelling, entity.RunCancelled},
		},
		{
			name: "pending action expires",
			path: []entity.RunStatus{entity.RunInProgress, entity.RunPendingAction, entity.RunExpired},
		},
		{
			name: "failure mid-stream",
			path: []entity.RunStatus{entity.RunInProgress, entity.RunFailed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRunRepo()
			sm := NewRunStateMachine(repo, testLogger())
			run := newTestRun(repo, entity.RunQueued)
			for _, to := range tt.path {
				if err := sm.Transition(context.Background(), run, to, ""); err != nil {
					t.Fatalf("transition to %s: %v", to, err)
				}
			}
			last := tt.path[len(tt.path)-1]
			if run.Status != last {
				t.Errorf("status: got %s, want %s", run.Status, last)
			}
			stored, _ := repo.FindByID(context.Background(), run.ID)
			if stored.Status != last {
				t.Errorf("persisted status: got %s, want %s", stored.Status, last)
			}
		})
	}
}

// === Invalid paths ===

func TestRunStateMachine_InvalidPaths(t *testing.T) {
	tests := []struct {
		name string
		from entity.RunStatus
		to   entity.RunStatus
	}{
		{"queued -> completed", entity.RunQueued, entity.RunCompleted},
		{"queued -> pending_action", entity.RunQueued, entity.RunPendingAction},
		{"in_progress -> cancelled (skips cancelling)", entity.RunInProgress, entity.RunCancelled},
		{"completed -> in_progress (terminal)", entity.RunCompleted, entity.RunInProgress},
		{"cancelled -> in_progress (terminal)", entity.RunCancelled, entity.RunInProgress},
		{"failed -> queued (terminal)", entity.RunFailed, entity.RunQueued},
		{"expired -> in_progress (terminal)", entity.RunExpired, entity.RunInProgress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRunRepo()
			sm := NewRunStateMachine(repo, testLogger())
			run := newTestRun(repo, tt.from)
			err := sm.Transition(context.Background(), run, tt.to, "")
			if !errors.Is(err, entity.ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got %v", err)
			}
			if run.Status != tt.from {
				t.Errorf("status mutated on rejected transition: %s", run.Status)
			}
		})
	}
}

// === Failure reason ===

func TestRunStateMachine_FailureRecordsReason(t *testing.T) {
	repo := newMemRunRepo()
	sm := NewRunStateMachine(repo, testLogger())
	run := newTestRun(repo, entity.RunInProgress)

	if err := sm.Transition(context.Background(), run, entity.RunFailed, "provider timeout"); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if run.LastError != "provider timeout" {
		t.Errorf("last error: got %q", run.LastError)
	}
	stored, _ := repo.FindByID(context.Background(), run.ID)
	if stored.LastError != "provider timeout" {
		t.Errorf("persisted last error: got %q", stored.LastError)
	}
}

// === Listeners ===

func TestRunStateMachine_ListenersFire(t *testing.T) {
	repo := newMemRunRepo()
	sm := NewRunStateMachine(repo, testLogger())
	run := newTestRun(repo, entity.RunQueued)

	type hop struct{ from, to entity.RunStatus }
	var seen []hop
	sm.OnTransition(func(r *entity.Run, from, to entity.RunStatus) {
		seen = append(seen, hop{from, to})
	})

	sm.Transition(context.Background(), run, entity.RunInProgress, "")
	sm.Transition(context.Background(), run, entity.RunCompleted, "")

	want := []hop{
		{entity.RunQueued, entity.RunInProgress},
		{entity.RunInProgress, entity.RunCompleted},
	}
	if len(seen) != len(want) {
		t.Fatalf("listener calls: got %d, want %d", len(seen), len(want))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("hop %d: got %+v, want %+v", i, seen[i], want[i])
		}
	}
}

// === CanTransition table sanity ===

func TestCanTransition_TerminalStatesHaveNoExits(t *testing.T) {
	terminals := []entity.RunStatus{entity.RunCompleted, entity.RunCancelled, entity.RunFailed, entity.RunExpired}
	all := []entity.RunStatus{
		entity.RunQueued, entity.RunInProgress, entity.RunPendingAction, entity.RunCancelling,
		entity.RunCompleted, entity.RunCancelled, entity.RunFailed, entity.RunExpired,
	}
	for _, from := range terminals {
		for _, to := range all {
			if CanTransition(from, to) {
				t.Errorf("terminal %s allows exit to %s", from, to)
			}
		}
	}
}
