package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain/entity"
	"github.com/strandlabs/strand/internal/domain/repository"
)

// ProviderRequest is one upstream model invocation.
type ProviderRequest struct {
	Model       string
	Messages    []PromptMessage
	Tools       []entity.ToolSpec
	APIKey      string // caller-supplied override, never mixed across runs
	Temperature float64
	MaxTokens   int
}

// Provider is one upstream LLM family adapter (C5). Stream opens the
// upstream connection and writes raw deltas until the stream ends or
// ctx is cancelled. The channel is closed by the caller, not Stream.
type Provider interface {
	Name() string
	// ContextWindow returns the declared window for a model, 0 if
	// unknown.
	ContextWindow(model string) int
	// NativeTools reports whether the model family accepts structured
	// tool schemas (selects the amended system message).
	NativeTools(model string) bool
	Stream(ctx context.Context, req *ProviderRequest, out chan<- Delta) error
}

// ProviderFactory resolves a provider by model string prefix.
type ProviderFactory interface {
	ForModel(model string) (Provider, error)
}

// StreamSink receives every chunk and lifecycle event of a run (C7).
type StreamSink interface {
	Publish(ctx context.Context, runID string, chunk entity.StreamChunk)
	PublishEvent(ctx context.Context, runID string, event entity.RunEvent)
}

// CancelStore holds cross-process cancellation flags (Redis-backed so
// they outlive any single process).
type CancelStore interface {
	Set(ctx context.Context, runID string) error
	IsSet(ctx context.Context, runID string) (bool, error)
	Clear(ctx context.Context, runID string) error
}

// OrchestratorConfig tunes the per-run loop.
type OrchestratorConfig struct {
	MaxTurns      int           // default 10
	CancelPoll    time.Duration // cancel-flag poll interval (default 250ms)
	Temperature   float64
	MaxTokens     int
	ContextWindow int           // fallback when the provider declares none (default 128000)
	DecisionFlags BuildOptions  // default build flags (agent_mode etc.)
}

// Orchestrator owns the per-run streaming loop (C6): context build →
// provider stream → normalize → route tools → next turn, until a
// terminal state. One instance is shared; per-run mutable state lives
// in runState values created per Execute call.
type Orchestrator struct {
	builder   *ContextBuilder
	providers ProviderFactory
	router    *Router
	sm        *RunStateMachine
	runs      repository.RunRepository
	messages  repository.MessageRepository
	bus       StreamSink
	cancels   CancelStore
	mu        sync.RWMutex
	cfg       OrchestratorConfig
	logger    *zap.Logger
}

// UpdateConfig swaps the loop tunables. Runs already in flight keep the
// snapshot they started with.
func (o *Orchestrator) UpdateConfig(cfg OrchestratorConfig) {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 10
	}
	if cfg.CancelPoll <= 0 {
		cfg.CancelPoll = 250 * time.Millisecond
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = 128000
	}
	o.mu.Lock()
	o.cfg = cfg
	o.mu.Unlock()
}

func (o *Orchestrator) config() OrchestratorConfig {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg
}

// NewOrchestrator wires the engine.
func NewOrchestrator(
	builder *ContextBuilder,
	providers ProviderFactory,
	router *Router,
	sm *RunStateMachine,
	runs repository.RunRepository,
	messages repository.MessageRepository,
	bus StreamSink,
	cancels CancelStore,
	cfg OrchestratorConfig,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 10
	}
	if cfg.CancelPoll <= 0 {
		cfg.CancelPoll = 250 * time.Millisecond
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = 128000
	}
	return &Orchestrator{
		builder:   builder,
		providers: providers,
		router:    router,
		sm:        sm,
		runs:      runs,
		messages:  messages,
		bus:       bus,
		cancels:   cancels,
		cfg:       cfg,
		logger:    logger,
	}
}

// runState is the per-run mutable state. Instances are per-request,
// never shared.
type runState struct {
	run       *entity.Run
	assistant *entity.Assistant
	stop      atomic.Bool
	out       chan<- entity.StreamChunk
	// cfg is the tunables snapshot taken when the run entered the loop.
	cfg OrchestratorConfig
}

// Execute drives one run to a terminal or pending state, streaming
// chunks to out. out is closed before return. apiKey, when non-empty,
// is the caller's upstream credential for this run only.
func (o *Orchestrator) Execute(ctx context.Context, runID, apiKey string, out chan<- entity.StreamChunk) {
	defer close(out)

	logger := o.logger.With(zap.String("run_id", runID))

	run, err := o.runs.FindByID(ctx, runID)
	if err != nil {
		o.emitTo(ctx, out, runID, entity.StreamChunk{
			Type: entity.ChunkError, Content: fmt.Sprintf("run not found: %v", err), RunID: runID,
		})
		return
	}

	st := &runState{run: run, out: out, cfg: o.config()}

	// Resume path: a run waiting on consumer tool output re-enters the
	// loop; everything else must start from queued.
	switch run.Status {
	case entity.RunQueued, entity.RunPendingAction:
		if err := o.sm.Transition(ctx, run, entity.RunInProgress, ""); err != nil {
			o.emitError(ctx, st, fmt.Sprintf("cannot start run: %v", err))
			return
		}
	case entity.RunInProgress:
		// crashed mid-turn previously; continue
	default:
		o.emitError(ctx, st, fmt.Sprintf("run is %s", run.Status))
		return
	}

	// Cancellation watcher: polls the shared cancel flag and flips the
	// local stop event. Cancelling the watcher ctx stops the poll.
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()
	go o.watchCancel(watchCtx, runID, st, cancelStream, logger)

	provider, err := o.providers.ForModel(run.Model)
	if err != nil {
		o.failRun(ctx, st, fmt.Sprintf("no provider for model %s: %v", run.Model, err))
		return
	}

	window := provider.ContextWindow(run.Model)
	if window <= 0 {
		window = st.cfg.ContextWindow
	}

	opts := st.cfg.DecisionFlags
	opts.NativeTools = provider.NativeTools(run.Model)

	for turn := 1; turn <= st.cfg.MaxTurns; turn++ {
		logger.Info("Run turn",
			zap.Int("turn", turn),
			zap.String("model", run.Model),
		)

		prompt, assistant, err := o.builder.Build(ctx, run.AssistantID, run.ThreadID, window, opts)
		if err != nil {
			o.failRun(ctx, st, fmt.Sprintf("context build failed: %v", err))
			return
		}
		st.assistant = assistant

		turnResult, err := o.streamTurn(streamCtx, st, provider, prompt, apiKey, opts.NativeTools)
		if st.stop.Load() {
			o.finishCancelled(ctx, st, turnResult)
			return
		}
		if err != nil {
			o.failRun(ctx, st, fmt.Sprintf("provider stream failed: %v", err))
			return
		}

		// Persist the assistant turn: plain text, or the serialized
		// tool-call envelope when the turn was all tool calls.
		calls := o.router.DetectCalls(turnResult.nativeCalls, turnResult.rawContent())
		if err := o.persistAssistantTurn(ctx, st, turnResult, calls); err != nil {
			o.failRun(ctx, st, fmt.Sprintf("persist turn failed: %v", err))
			return
		}

		if len(calls) == 0 {
			if err := o.sm.Transition(ctx, run, entity.RunCompleted, ""); err != nil {
				logger.Error("Completion transition failed", zap.Error(err))
			}
			o.bus.PublishEvent(ctx, run.ID, entity.RunEvent{
				RunID: run.ID, Type: entity.EventRunEnded, Timestamp: time.Now(),
			})
			return
		}

		outcome, err := o.router.Dispatch(ctx, run, turn, calls, assistant, func(c entity.StreamChunk) {
			o.emit(ctx, st, c)
		})
		if err != nil {
			o.failRun(ctx, st, fmt.Sprintf("tool dispatch failed: %v", err))
			return
		}
		o.bus.PublishEvent(ctx, run.ID, entity.RunEvent{
			RunID: run.ID, Type: entity.EventToolInvoked,
			Data:      callNames(calls),
			Timestamp: time.Now(),
		})

		if len(outcome.ConsumerPending) > 0 {
			if err := o.sm.Transition(ctx, run, entity.RunPendingAction, ""); err != nil {
				logger.Error("pending_action transition failed", zap.Error(err))
			}
			o.bus.PublishEvent(ctx, run.ID, entity.RunEvent{
				RunID: run.ID, Type: entity.EventActionRequired,
				Data:      pendingPayload(outcome.ConsumerPending),
				Timestamp: time.Now(),
			})
			o.emit(ctx, st, entity.StreamChunk{
				Type: entity.ChunkStatus, Content: string(entity.RunPendingAction), RunID: run.ID,
			})
			return
		}
		// All platform-side: loop into the next turn.
	}

	o.failRun(ctx, st, fmt.Sprintf("max turns exceeded (%d)", st.cfg.MaxTurns))
}

// turnResult accumulates one provider turn.
type turnResult struct {
	content     strings.Builder // user-visible content
	callArgs    strings.Builder // streamed call_arguments text (for regex passes)
	nativeCalls []entity.ToolCallInfo
}

// rawContent is the text the detection passes scan: visible content
// plus any streamed argument text from inline dialects.
func (t *turnResult) rawContent() string {
	if t.callArgs.Len() == 0 {
		return t.content.String()
	}
	return t.content.String() + "\n" + t.callArgs.String()
}

// streamTurn opens one upstream stream and forwards normalized events
// to the SSE bus and the caller until the stream ends or the stop flag
// trips.
func (o *Orchestrator) streamTurn(ctx context.Context, st *runState, provider Provider, prompt []PromptMessage, apiKey string, nativeTools bool) (*turnResult, error) {
	result := &turnResult{}
	norm := NewNormalizer()

	req := &ProviderRequest{
		Model:       st.run.Model,
		Messages:    prompt,
		APIKey:      apiKey,
		Temperature: st.cfg.Temperature,
		MaxTokens:   st.cfg.MaxTokens,
	}
	if nativeTools && st.assistant != nil {
		req.Tools = st.assistant.Tools
	}

	deltaCh := make(chan Delta, 64)
	errCh := make(chan error, 1)
	go func() {
		errCh <- provider.Stream(ctx, req, deltaCh)
		close(deltaCh)
	}()

	for delta := range deltaCh {
		if st.stop.Load() {
			// Drain without forwarding; Stream sees ctx cancellation.
			continue
		}
		for _, ev := range norm.Feed(delta) {
			o.forward(ctx, st, result, ev)
		}
	}
	if err := <-errCh; err != nil && !st.stop.Load() {
		return result, err
	}

	for _, ev := range norm.Close() {
		o.forward(ctx, st, result, ev)
	}
	return result, nil
}

func (o *Orchestrator) forward(ctx context.Context, st *runState, result *turnResult, ev Event) {
	switch ev.Type {
	case entity.ChunkContent:
		result.content.WriteString(ev.Text)
	case entity.ChunkCallArguments:
		result.callArgs.WriteString(ev.Text)
	case entity.ChunkToolCall:
		if ev.ToolCall != nil {
			result.nativeCalls = append(result.nativeCalls, *ev.ToolCall)
		}
	}

	chunk := entity.StreamChunk{Type: ev.Type, RunID: st.run.ID}
	if ev.Type == entity.ChunkToolCall && ev.ToolCall != nil {
		chunk.Content = ev.ToolCall
	} else {
		chunk.Content = ev.Text
	}
	o.emit(ctx, st, chunk)
}

// emit forwards one chunk to the caller and mirrors it to the bus, in
// strict emission order.
func (o *Orchestrator) emit(ctx context.Context, st *runState, chunk entity.StreamChunk) {
	o.emitTo(ctx, st.out, st.run.ID, chunk)
}

func (o *Orchestrator) emitTo(ctx context.Context, out chan<- entity.StreamChunk, runID string, chunk entity.StreamChunk) {
	select {
	case out <- chunk:
	case <-ctx.Done():
	}
	o.bus.Publish(ctx, runID, chunk)
}

// persistAssistantTurn stores the assistant message for this turn: the
// cleaned text, or the serialized tool-call envelope when the model
// emitted only calls.
func (o *Orchestrator) persistAssistantTurn(ctx context.Context, st *runState, result *turnResult, calls []entity.ToolCallInfo) error {
	content := strings.TrimSpace(result.content.String())
	if content == "" && len(calls) > 0 {
		raw, err := json.Marshal(calls)
		if err != nil {
			return fmt.Errorf("serialize tool calls: %w", err)
		}
		content = string(raw)
	}
	if content == "" {
		return nil
	}

	msg := &entity.Message{
		ID:          uuid.NewString(),
		ThreadID:    st.run.ThreadID,
		Role:        entity.RoleAssistant,
		Content:     content,
		AssistantID: st.run.AssistantID,
		RunID:       st.run.ID,
		CreatedAt:   time.Now(),
	}
	if err := o.messages.Save(ctx, msg); err != nil {
		return err
	}
	o.builder.AppendToHistory(ctx, st.run.ThreadID, entity.RoleAssistant, content)
	return nil
}

// watchCancel polls the shared cancel flag until the run finishes.
func (o *Orchestrator) watchCancel(ctx context.Context, runID string, st *runState, cancelStream context.CancelFunc, logger *zap.Logger) {
	ticker := time.NewTicker(st.cfg.CancelPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			set, err := o.cancels.IsSet(ctx, runID)
			if err != nil {
				logger.Debug("Cancel flag poll failed", zap.Error(err))
				continue
			}
			if set {
				logger.Info("Cancel flag observed")
				st.stop.Store(true)
				cancelStream()
				return
			}
		}
	}
}

// finishCancelled persists whatever partial content already streamed,
// then walks the run to cancelled.
func (o *Orchestrator) finishCancelled(ctx context.Context, st *runState, result *turnResult) {
	if result != nil {
		if partial := strings.TrimSpace(result.content.String()); partial != "" {
			msg := &entity.Message{
				ID:          uuid.NewString(),
				ThreadID:    st.run.ThreadID,
				Role:        entity.RoleAssistant,
				Content:     partial,
				AssistantID: st.run.AssistantID,
				RunID:       st.run.ID,
				CreatedAt:   time.Now(),
			}
			if err := o.messages.Save(ctx, msg); err != nil {
				o.logger.Error("Failed to persist partial content", zap.Error(err))
			} else {
				o.builder.AppendToHistory(ctx, st.run.ThreadID, entity.RoleAssistant, partial)
			}
		}
	}

	if err := o.sm.Transition(ctx, st.run, entity.RunCancelling, ""); err == nil {
		_ = o.sm.Transition(ctx, st.run, entity.RunCancelled, "")
	}
	_ = o.cancels.Clear(ctx, st.run.ID)

	o.emit(ctx, st, entity.StreamChunk{
		Type: entity.ChunkError, Content: "Run cancelled", RunID: st.run.ID,
	})
	o.bus.PublishEvent(ctx, st.run.ID, entity.RunEvent{
		RunID: st.run.ID, Type: entity.EventCancelled, Timestamp: time.Now(),
	})
}

func (o *Orchestrator) failRun(ctx context.Context, st *runState, reason string) {
	if err := o.sm.Transition(ctx, st.run, entity.RunFailed, reason); err != nil {
		o.logger.Error("Failed transition to failed",
			zap.String("run_id", st.run.ID),
			zap.Error(err),
		)
	}
	o.emitError(ctx, st, reason)
	o.bus.PublishEvent(ctx, st.run.ID, entity.RunEvent{
		RunID: st.run.ID, Type: entity.EventError, Data: reason, Timestamp: time.Now(),
	})
}

func (o *Orchestrator) emitError(ctx context.Context, st *runState, msg string) {
	o.emit(ctx, st, entity.StreamChunk{
		Type: entity.ChunkError, Content: msg, RunID: st.run.ID,
	})
}

func callNames(calls []entity.ToolCallInfo) []string {
	names := make([]string, 0, len(calls))
	for _, c := range calls {
		names = append(names, c.Name)
	}
	return names
}

func pendingPayload(actions []*entity.Action) []map[string]any {
	out := make([]map[string]any, 0, len(actions))
	for _, a := range actions {
		out = append(out, map[string]any{
			"action_id":    a.ID,
			"tool_call_id": a.ToolCallID,
			"name":         a.FunctionName,
			"arguments":    a.FunctionArgs,
			"expires_at":   a.ExpiresAt,
			"turn_index":   a.TurnIndex,
		})
	}
	return out
}
