package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/strandlabs/strand/internal/domain/entity"
)

// memHistoryCache is an in-process stand-in for the Redis list.
type memHistoryCache struct {
	mu      sync.Mutex
	threads map[string][]CachedMessage
	fetches int
}

func newMemHistoryCache() *memHistoryCache {
	return &memHistoryCache{threads: make(map[string][]CachedMessage)}
}

func (c *memHistoryCache) Fetch(ctx context.Context, threadID string) ([]CachedMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetches++
	msgs, ok := c.threads[threadID]
	if !ok {
		return nil, false
	}
	return append([]CachedMessage(nil), msgs...), true
}

func (c *memHistoryCache) Replace(ctx context.Context, threadID string, msgs []CachedMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threads[threadID] = append([]CachedMessage(nil), msgs...)
}

func (c *memHistoryCache) Append(ctx context.Context, threadID string, msg CachedMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threads[threadID] = append(c.threads[threadID], msg)
}

func (c *memHistoryCache) Invalidate(ctx context.Context, threadID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.threads, threadID)
}

// memAssistantCache is the shared-tier stand-in.
type memAssistantCache struct {
	mu    sync.Mutex
	items map[string]*entity.Assistant
}

func newMemAssistantCache() *memAssistantCache {
	return &memAssistantCache{items: make(map[string]*entity.Assistant)}
}

func (c *memAssistantCache) Get(ctx context.Context, id string) (*entity.Assistant, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.items[id]
	return a, ok
}

func (c *memAssistantCache) Set(ctx context.Context, a *entity.Assistant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[a.ID] = a
}

func (c *memAssistantCache) Invalidate(ctx context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, id)
}

func seedAssistant(repo *memAssistantRepo) *entity.Assistant {
	a := &entity.Assistant{
		ID:           "a-1",
		Name:         "helper",
		Model:        "deepseek-chat",
		Instructions: "Be concise.",
		Tools: []entity.ToolSpec{
			{Type: "function", Function: &entity.ToolFunction{Name: "get_weather"}},
		},
	}
	repo.Save(context.Background(), a)
	return a
}

// === Assistant cache tiers ===

func TestContextBuilder_AssistantCachedAfterFirstLoad(t *testing.T) {
	repo := newMemAssistantRepo()
	seedAssistant(repo)
	b := NewContextBuilder(repo, newMemMessageRepo(), newMemAssistantCache(), nil, ContextBuilderConfig{}, testLogger())

	for i := 0; i < 3; i++ {
		if _, err := b.Assistant(context.Background(), "a-1", false); err != nil {
			t.Fatalf("load %d: %v", i, err)
		}
	}
	if repo.loadCount() != 1 {
		t.Errorf("store loads: got %d, want 1", repo.loadCount())
	}
}

func TestContextBuilder_SharedCacheWarmsLocalTier(t *testing.T) {
	repo := newMemAssistantRepo()
	a := seedAssistant(repo)
	shared := newMemAssistantCache()
	shared.Set(context.Background(), a)
	b := NewContextBuilder(repo, newMemMessageRepo(), shared, nil, ContextBuilderConfig{}, testLogger())

	if _, err := b.Assistant(context.Background(), "a-1", false); err != nil {
		t.Fatalf("load: %v", err)
	}
	if repo.loadCount() != 0 {
		t.Errorf("store loads: got %d, want 0", repo.loadCount())
	}
}

func TestContextBuilder_ForceRefreshBypassesCaches(t *testing.T) {
	repo := newMemAssistantRepo()
	seedAssistant(repo)
	b := NewContextBuilder(repo, newMemMessageRepo(), newMemAssistantCache(), nil, ContextBuilderConfig{}, testLogger())

	b.Assistant(context.Background(), "a-1", false)
	b.Assistant(context.Background(), "a-1", true)
	if repo.loadCount() != 2 {
		t.Errorf("store loads: got %d, want 2", repo.loadCount())
	}
}

func TestContextBuilder_InvalidateDropsBothTiers(t *testing.T) {
	repo := newMemAssistantRepo()
	seedAssistant(repo)
	shared := newMemAssistantCache()
	b := NewContextBuilder(repo, newMemMessageRepo(), shared, nil, ContextBuilderConfig{}, testLogger())

	b.Assistant(context.Background(), "a-1", false)
	b.Invalidate(context.Background(), "a-1")
	if _, ok := shared.Get(context.Background(), "a-1"); ok {
		t.Error("shared tier still holds the assistant")
	}
	b.Assistant(context.Background(), "a-1", false)
	if repo.loadCount() != 2 {
		t.Errorf("store loads after invalidate: got %d, want 2", repo.loadCount())
	}
}

// === Build ===

func TestContextBuilder_BuildComposesPrompt(t *testing.T) {
	repo := newMemAssistantRepo()
	seedAssistant(repo)
	messages := newMemMessageRepo()
	messages.Save(context.Background(), &entity.Message{ID: "m1", ThreadID: "t-1", Role: entity.RoleUser, Content: "hi"})
	messages.Save(context.Background(), &entity.Message{ID: "m2", ThreadID: "t-1", Role: entity.RoleAssistant, Content: "hello"})

	b := NewContextBuilder(repo, messages, nil, nil, ContextBuilderConfig{}, testLogger())
	prompt, assistant, err := b.Build(context.Background(), "a-1", "t-1", 0, BuildOptions{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if assistant.ID != "a-1" {
		t.Errorf("assistant: %q", assistant.ID)
	}
	if len(prompt) != 3 {
		t.Fatalf("prompt length: got %d, want 3", len(prompt))
	}
	if prompt[0].Role != entity.RoleSystem {
		t.Errorf("first message role: %q", prompt[0].Role)
	}
	if !strings.Contains(prompt[0].Content, "get_weather") {
		t.Error("system message missing tool catalog")
	}
	if !strings.Contains(prompt[0].Content, "Be concise.") {
		t.Error("system message missing instructions")
	}
	if prompt[1].Content != "hi" || prompt[2].Content != "hello" {
		t.Errorf("history order: %q, %q", prompt[1].Content, prompt[2].Content)
	}
}

func TestContextBuilder_ToolProtocolOnlyForNonNativeModels(t *testing.T) {
	repo := newMemAssistantRepo()
	seedAssistant(repo)
	b := NewContextBuilder(repo, newMemMessageRepo(), nil, nil, ContextBuilderConfig{}, testLogger())

	prompt, _, err := b.Build(context.Background(), "a-1", "t-1", 0, BuildOptions{NativeTools: false})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(prompt[0].Content, "<fc>") {
		t.Error("non-native build should carry the inline call protocol")
	}

	prompt, _, err = b.Build(context.Background(), "a-1", "t-1", 0, BuildOptions{NativeTools: true})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if strings.Contains(prompt[0].Content, "<fc>") {
		t.Error("native build must omit the inline call protocol")
	}
}

func TestContextBuilder_HistoryCacheHitSkipsStore(t *testing.T) {
	repo := newMemAssistantRepo()
	seedAssistant(repo)
	hcache := newMemHistoryCache()
	hcache.Replace(context.Background(), "t-1", []CachedMessage{{Role: entity.RoleUser, Content: "cached"}})

	b := NewContextBuilder(repo, newMemMessageRepo(), nil, hcache, ContextBuilderConfig{}, testLogger())
	prompt, _, err := b.Build(context.Background(), "a-1", "t-1", 0, BuildOptions{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(prompt) != 2 || prompt[1].Content != "cached" {
		t.Errorf("prompt: %+v", prompt)
	}
}

func TestContextBuilder_ColdLoadRepopulatesCache(t *testing.T) {
	repo := newMemAssistantRepo()
	seedAssistant(repo)
	messages := newMemMessageRepo()
	messages.Save(context.Background(), &entity.Message{ID: "m1", ThreadID: "t-1", Role: entity.RoleUser, Content: "hi"})
	hcache := newMemHistoryCache()

	b := NewContextBuilder(repo, messages, nil, hcache, ContextBuilderConfig{}, testLogger())
	if _, _, err := b.Build(context.Background(), "a-1", "t-1", 0, BuildOptions{}); err != nil {
		t.Fatalf("build: %v", err)
	}
	if msgs, ok := hcache.Fetch(context.Background(), "t-1"); !ok || len(msgs) != 1 {
		t.Errorf("cache not repopulated: ok=%v msgs=%+v", ok, msgs)
	}
}

// === Truncation ===

func TestContextBuilder_TruncationDropsOldestFirst(t *testing.T) {
	repo := newMemAssistantRepo()
	seedAssistant(repo)
	messages := newMemMessageRepo()
	long := strings.Repeat("word ", 400)
	messages.Save(context.Background(), &entity.Message{ID: "m1", ThreadID: "t-1", Role: entity.RoleUser, Content: long})
	messages.Save(context.Background(), &entity.Message{ID: "m2", ThreadID: "t-1", Role: entity.RoleAssistant, Content: long})
	messages.Save(context.Background(), &entity.Message{ID: "m3", ThreadID: "t-1", Role: entity.RoleUser, Content: "latest question"})

	b := NewContextBuilder(repo, messages, nil, nil, ContextBuilderConfig{}, testLogger())
	// A window small enough that both long turns cannot fit.
	prompt, _, err := b.Build(context.Background(), "a-1", "t-1", 800, BuildOptions{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if prompt[0].Role != entity.RoleSystem {
		t.Fatal("system message must survive truncation")
	}
	last := prompt[len(prompt)-1]
	if last.Content != "latest question" {
		t.Errorf("newest message dropped; tail is %q", last.Content)
	}
	if len(prompt) >= 4 {
		t.Errorf("nothing was dropped; prompt has %d messages", len(prompt))
	}
	// Dropping runs oldest-first, so whenever exactly one long turn
	// survives it must be the later (assistant) one.
	if len(prompt) == 3 && prompt[1].Role != entity.RoleAssistant {
		t.Errorf("oldest-first drop violated; middle message role %q", prompt[1].Role)
	}
}

// === LRU ===

func TestAssistantLRU_EvictsOldest(t *testing.T) {
	lru := newAssistantLRU(2)
	lru.put("a", &entity.Assistant{ID: "a"})
	lru.put("b", &entity.Assistant{ID: "b"})
	lru.get("a") // refresh a
	lru.put("c", &entity.Assistant{ID: "c"})

	if _, ok := lru.get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := lru.get("a"); !ok {
		t.Error("a should survive (recently used)")
	}
	if _, ok := lru.get("c"); !ok {
		t.Error("c should be present")
	}
}
