package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/strandlabs/strand/internal/domain/entity"
	"github.com/strandlabs/strand/internal/domain/tool"
)

// scriptedProvider plays one delta script per Stream call.
type scriptedProvider struct {
	mu      sync.Mutex
	scripts [][]Delta
	native  bool
}

func (p *scriptedProvider) Name() string             { return "scripted" }
func (p *scriptedProvider) ContextWindow(string) int { return 8192 }
func (p *scriptedProvider) NativeTools(string) bool  { return p.native }

func (p *scriptedProvider) Stream(ctx context.Context, req *ProviderRequest, out chan<- Delta) error {
	p.mu.Lock()
	if len(p.scripts) == 0 {
		p.mu.Unlock()
		return errors.New("scripted provider exhausted")
	}
	script := p.scripts[0]
	p.scripts = p.scripts[1:]
	p.mu.Unlock()

	for _, d := range script {
		select {
		case out <- d:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// blockingProvider parks in Stream until ctx is cancelled.
type blockingProvider struct{}

func (p *blockingProvider) Name() string             { return "blocking" }
func (p *blockingProvider) ContextWindow(string) int { return 8192 }
func (p *blockingProvider) NativeTools(string) bool  { return true }

func (p *blockingProvider) Stream(ctx context.Context, req *ProviderRequest, out chan<- Delta) error {
	select {
	case out <- Delta{Content: "partial "}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case out <- Delta{Content: "answer"}:
	case <-ctx.Done():
		return ctx.Err()
	}
	<-ctx.Done()
	return ctx.Err()
}

type singleFactory struct{ p Provider }

func (f singleFactory) ForModel(model string) (Provider, error) { return f.p, nil }

// memCancelFlags is the in-process cancel store.
type memCancelFlags struct {
	mu    sync.Mutex
	flags map[string]bool
}

func newMemCancelFlags() *memCancelFlags {
	return &memCancelFlags{flags: make(map[string]bool)}
}

func (c *memCancelFlags) Set(ctx context.Context, runID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags[runID] = true
	return nil
}

func (c *memCancelFlags) IsSet(ctx context.Context, runID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flags[runID], nil
}

func (c *memCancelFlags) Clear(ctx context.Context, runID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.flags, runID)
	return nil
}

type orchestratorFixture struct {
	orchestrator *Orchestrator
	runs         *memRunRepo
	actions      *memActionRepo
	messages     *memMessageRepo
	sink         *recordingSink
	cancels      *memCancelFlags
}

func newOrchestratorFixture(t *testing.T, provider Provider, registry *tool.Registry, cfg OrchestratorConfig) *orchestratorFixture {
	t.Helper()
	if registry == nil {
		registry = tool.NewRegistry()
	}

	assistants := newMemAssistantRepo()
	seedAssistant(assistants)
	runs := newMemRunRepo()
	actions := newMemActionRepo()
	messages := newMemMessageRepo()
	sink := &recordingSink{}
	cancels := newMemCancelFlags()

	builder := NewContextBuilder(assistants, messages, nil, nil, ContextBuilderConfig{}, testLogger())
	router := NewRouter(registry, actions, messages, nil, RouterConfig{}, testLogger())
	sm := NewRunStateMachine(runs, testLogger())
	orch := NewOrchestrator(builder, singleFactory{provider}, router, sm, runs, messages, sink, cancels, cfg, testLogger())

	return &orchestratorFixture{
		orchestrator: orch,
		runs:         runs,
		actions:      actions,
		messages:     messages,
		sink:         sink,
		cancels:      cancels,
	}
}

func (f *orchestratorFixture) startRun(t *testing.T) *entity.Run {
	t.Helper()
	run := &entity.Run{
		ID:          "run-1",
		ThreadID:    "t-1",
		AssistantID: "a-1",
		Status:      entity.RunQueued,
		Model:       "deepseek-chat",
		CreatedAt:   time.Now(),
	}
	if err := f.runs.Save(context.Background(), run); err != nil {
		t.Fatalf("seed run: %v", err)
	}
	return run
}

func (f *orchestratorFixture) execute(runID string) []entity.StreamChunk {
	out := make(chan entity.StreamChunk, 256)
	f.orchestrator.Execute(context.Background(), runID, "", out)

	var chunks []entity.StreamChunk
	for c := range out {
		chunks = append(chunks, c)
	}
	return chunks
}

func toolCallScript(id, name, args string) []Delta {
	return []Delta{
		{ToolCalls: []ToolCallDelta{{Index: 0, ID: id, Name: name, Arguments: args}}},
		{FinishReason: "tool_calls"},
	}
}

func contentScript(parts ...string) []Delta {
	var script []Delta
	for _, p := range parts {
		script = append(script, Delta{Content: p})
	}
	return append(script, Delta{FinishReason: "stop"})
}

// === Plain completion ===

func TestOrchestrator_PlainCompletion(t *testing.T) {
	provider := &scriptedProvider{native: true, scripts: [][]Delta{
		contentScript("Hello", ", world"),
	}}
	f := newOrchestratorFixture(t, provider, nil, OrchestratorConfig{})
	run := f.startRun(t)

	chunks := f.execute(run.ID)

	stored, _ := f.runs.FindByID(context.Background(), run.ID)
	if stored.Status != entity.RunCompleted {
		t.Fatalf("run status: %s", stored.Status)
	}

	var text string
	for _, c := range chunks {
		if c.Type == entity.ChunkContent {
			if s, ok := c.Content.(string); ok {
				text += s
			}
		}
	}
	if text != "Hello, world" {
		t.Errorf("streamed content: %q", text)
	}

	msgs, _ := f.messages.FindByThread(context.Background(), run.ThreadID, 10)
	if len(msgs) != 1 || msgs[0].Role != entity.RoleAssistant || msgs[0].Content != "Hello, world" {
		t.Errorf("persisted messages: %+v", msgs)
	}

	types := f.sink.eventTypes()
	if len(types) != 1 || types[0] != entity.EventRunEnded {
		t.Errorf("events: %v", types)
	}
}

// === Platform tool loop ===

func TestOrchestrator_PlatformToolLoopsIntoNextTurn(t *testing.T) {
	registry := tool.NewRegistry()
	registry.Register(&echoTool{name: "get_weather"})

	provider := &scriptedProvider{native: true, scripts: [][]Delta{
		toolCallScript("call_1", "get_weather", `{"city": "Oslo"}`),
		contentScript("Sunny in Oslo."),
	}}
	f := newOrchestratorFixture(t, provider, registry, OrchestratorConfig{})
	run := f.startRun(t)

	f.execute(run.ID)

	stored, _ := f.runs.FindByID(context.Background(), run.ID)
	if stored.Status != entity.RunCompleted {
		t.Fatalf("run status: %s", stored.Status)
	}

	action, err := f.actions.FindByToolCallID(context.Background(), run.ID, "call_1")
	if err != nil {
		t.Fatalf("action: %v", err)
	}
	if action.Status != entity.ActionCompleted {
		t.Errorf("action status: %s", action.Status)
	}

	msgs, _ := f.messages.FindByThread(context.Background(), run.ThreadID, 10)
	// Turn 1 envelope, the tool result, then the final answer.
	if len(msgs) != 3 {
		t.Fatalf("persisted messages: got %d, want 3", len(msgs))
	}
	if msgs[1].Role != entity.RoleTool {
		t.Errorf("middle message role: %s", msgs[1].Role)
	}
	if msgs[2].Content != "Sunny in Oslo." {
		t.Errorf("final message: %q", msgs[2].Content)
	}
}

// === Consumer handoff ===

func TestOrchestrator_ConsumerToolParksRun(t *testing.T) {
	// get_weather is declared on the assistant but not registered as a
	// platform tool, so the call is surfaced to the caller.
	provider := &scriptedProvider{native: true, scripts: [][]Delta{
		toolCallScript("call_1", "get_weather", `{"city": "Oslo"}`),
	}}
	f := newOrchestratorFixture(t, provider, nil, OrchestratorConfig{})
	run := f.startRun(t)

	chunks := f.execute(run.ID)

	stored, _ := f.runs.FindByID(context.Background(), run.ID)
	if stored.Status != entity.RunPendingAction {
		t.Fatalf("run status: %s", stored.Status)
	}

	pending, _ := f.actions.PendingByRun(context.Background(), run.ID)
	if len(pending) != 1 || pending[0].FunctionName != "get_weather" {
		t.Fatalf("pending actions: %+v", pending)
	}

	sawActionRequired := false
	for _, typ := range f.sink.eventTypes() {
		if typ == entity.EventActionRequired {
			sawActionRequired = true
		}
	}
	if !sawActionRequired {
		t.Errorf("events: %v", f.sink.eventTypes())
	}

	last := chunks[len(chunks)-1]
	if last.Type != entity.ChunkStatus || last.Content != string(entity.RunPendingAction) {
		t.Errorf("final chunk: %+v", last)
	}
}

// === Turn budget ===

func TestOrchestrator_MaxTurnsFailsRun(t *testing.T) {
	registry := tool.NewRegistry()
	registry.Register(&echoTool{name: "get_weather"})

	provider := &scriptedProvider{native: true, scripts: [][]Delta{
		toolCallScript("call_1", "get_weather", `{"city": "Oslo"}`),
		toolCallScript("call_2", "get_weather", `{"city": "Bergen"}`),
	}}
	f := newOrchestratorFixture(t, provider, registry, OrchestratorConfig{MaxTurns: 2})
	run := f.startRun(t)

	f.execute(run.ID)

	stored, _ := f.runs.FindByID(context.Background(), run.ID)
	if stored.Status != entity.RunFailed {
		t.Fatalf("run status: %s", stored.Status)
	}
	if !strings.Contains(stored.LastError, "max turns") {
		t.Errorf("last error: %q", stored.LastError)
	}
}

// === Cancellation ===

func TestOrchestrator_CancelFlagStopsRun(t *testing.T) {
	f := newOrchestratorFixture(t, &blockingProvider{}, nil, OrchestratorConfig{
		CancelPoll: 5 * time.Millisecond,
	})
	run := f.startRun(t)
	f.cancels.Set(context.Background(), run.ID)

	f.execute(run.ID)

	stored, _ := f.runs.FindByID(context.Background(), run.ID)
	if stored.Status != entity.RunCancelled {
		t.Fatalf("run status: %s", stored.Status)
	}

	// The flag is consumed so a later run id reuse cannot trip on it.
	if set, _ := f.cancels.IsSet(context.Background(), run.ID); set {
		t.Error("cancel flag not cleared")
	}

	sawCancelled := false
	for _, typ := range f.sink.eventTypes() {
		if typ == entity.EventCancelled {
			sawCancelled = true
		}
	}
	if !sawCancelled {
		t.Errorf("events: %v", f.sink.eventTypes())
	}
}
