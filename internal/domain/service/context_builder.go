package service

import (
	"container/list"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain/entity"
	"github.com/strandlabs/strand/internal/domain/repository"
)

// PromptMessage is one entry of the provider payload.
type PromptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CachedMessage is the compact form stored in the thread-history list.
type CachedMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AssistantCache is the shared (Redis) tier of the assistant cache.
type AssistantCache interface {
	Get(ctx context.Context, id string) (*entity.Assistant, bool)
	Set(ctx context.Context, a *entity.Assistant)
	Invalidate(ctx context.Context, id string)
}

// HistoryCache is the thread-history list. Implementations are
// advisory: a miss or error means cold-load from the store.
type HistoryCache interface {
	// Fetch returns the most recent messages, oldest first. ok=false
	// signals a miss.
	Fetch(ctx context.Context, threadID string) ([]CachedMessage, bool)
	// Replace repopulates the list (bounded at the history cap).
	Replace(ctx context.Context, threadID string, msgs []CachedMessage)
	// Append pushes one message and trims to the cap.
	Append(ctx context.Context, threadID string, msg CachedMessage)
	Invalidate(ctx context.Context, threadID string)
}

// HistoryCap bounds the thread-history list everywhere: Redis list,
// cold-load query, and prompt assembly.
const HistoryCap = 200

// DefaultWindowRatio is the share of the model context window the
// prompt may occupy before oldest-first truncation kicks in.
const DefaultWindowRatio = 0.8

// ToolUsageProtocol teaches inline tool-call markup to models without
// native tool support. The amended system message excludes it.
const ToolUsageProtocol = `TOOL_USAGE_PROTOCOL:
When you need to call a tool, emit exactly one block of the form
<fc>{"name": "<tool_name>", "arguments": {...}}</fc>
with valid JSON inside. Do not describe the call in prose. Wait for the
tool result before continuing.`

// BuildOptions are the per-run configuration flags of the builder.
type BuildOptions struct {
	ForceRefresh      bool
	AgentMode         bool
	WebAccess         bool
	DeepResearch      bool
	DecisionTelemetry bool
	ResearchWorker    bool
	// NativeTools selects the amended system message, which omits
	// ToolUsageProtocol for models with native tool-call support.
	NativeTools bool
}

// ContextBuilderConfig tunes the builder.
type ContextBuilderConfig struct {
	LocalCacheSize int     // in-process assistant LRU capacity (default 128)
	WindowRatio    float64 // truncation threshold ratio (default 0.8)
}

// ContextBuilder assembles the ordered message list fed to a provider
// (C2): two-tier assistant lookup, cached history, composed system
// message, token-budget truncation.
type ContextBuilder struct {
	assistants repository.AssistantRepository
	messages   repository.MessageRepository
	acache     AssistantCache
	hcache     HistoryCache
	counter    *TokenCounter
	local      *assistantLRU
	cfg        ContextBuilderConfig
	logger     *zap.Logger
	now        func() time.Time
}

// NewContextBuilder wires the builder. acache and hcache may be nil in
// tests; every cache miss falls through to the repositories.
func NewContextBuilder(
	assistants repository.AssistantRepository,
	messages repository.MessageRepository,
	acache AssistantCache,
	hcache HistoryCache,
	cfg ContextBuilderConfig,
	logger *zap.Logger,
) *ContextBuilder {
	if cfg.LocalCacheSize <= 0 {
		cfg.LocalCacheSize = 128
	}
	if cfg.WindowRatio <= 0 || cfg.WindowRatio > 1 {
		cfg.WindowRatio = DefaultWindowRatio
	}
	return &ContextBuilder{
		assistants: assistants,
		messages:   messages,
		acache:     acache,
		hcache:     hcache,
		counter:    NewTokenCounter(),
		local:      newAssistantLRU(cfg.LocalCacheSize),
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Assistant resolves an assistant through local LRU → shared cache →
// store, write-through on miss.
func (b *ContextBuilder) Assistant(ctx context.Context, id string, forceRefresh bool) (*entity.Assistant, error) {
	if !forceRefresh {
		if a, ok := b.local.get(id); ok {
			return a, nil
		}
		if b.acache != nil {
			if a, ok := b.acache.Get(ctx, id); ok {
				b.local.put(id, a)
				return a, nil
			}
		}
	}

	a, err := b.assistants.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load assistant %s: %w", id, err)
	}
	b.local.put(id, a)
	if b.acache != nil {
		b.acache.Set(ctx, a)
	}
	return a, nil
}

// Invalidate drops an assistant from both cache tiers (called on
// assistant update/delete).
func (b *ContextBuilder) Invalidate(ctx context.Context, id string) {
	b.local.remove(id)
	if b.acache != nil {
		b.acache.Invalidate(ctx, id)
	}
}

// Build produces the provider message list for one turn. window is the
// model's declared context window in tokens (0 disables truncation).
func (b *ContextBuilder) Build(ctx context.Context, assistantID, threadID string, window int, opts BuildOptions) ([]PromptMessage, *entity.Assistant, error) {
	assistant, err := b.Assistant(ctx, assistantID, opts.ForceRefresh)
	if err != nil {
		return nil, nil, err
	}

	system := b.systemMessage(assistant, opts)
	history, err := b.history(ctx, threadID, opts.ForceRefresh)
	if err != nil {
		return nil, nil, err
	}

	prompt := make([]PromptMessage, 0, len(history)+1)
	prompt = append(prompt, PromptMessage{Role: entity.RoleSystem, Content: system})
	for _, m := range history {
		prompt = append(prompt, PromptMessage{
			Role:    entity.NormalizeRole(m.Role),
			Content: strings.TrimSpace(m.Content),
		})
	}

	if window > 0 {
		prompt = b.truncate(prompt, window)
	}
	return prompt, assistant, nil
}

// AppendToHistory records a freshly persisted message in the cache so
// repeated builds within one run see a monotonically growing history.
func (b *ContextBuilder) AppendToHistory(ctx context.Context, threadID string, role, content string) {
	if b.hcache == nil {
		return
	}
	b.hcache.Append(ctx, threadID, CachedMessage{Role: role, Content: content})
}

// InvalidateHistory drops a thread's cached history (thread delete).
func (b *ContextBuilder) InvalidateHistory(ctx context.Context, threadID string) {
	if b.hcache != nil {
		b.hcache.Invalidate(ctx, threadID)
	}
}

// systemMessage composes the run's system message. The timestamp is
// recomputed on every call.
func (b *ContextBuilder) systemMessage(a *entity.Assistant, opts BuildOptions) string {
	instructions := a.Instructions
	if !opts.NativeTools && len(a.Tools) > 0 {
		if instructions != "" {
			instructions += "\n\n"
		}
		instructions += ToolUsageProtocol
	}
	return fmt.Sprintf("tools:\n%s\n%s\nToday's date and time: %s",
		a.ToolCatalogJSON(),
		instructions,
		b.now().Format("2006-01-02 15:04:05"),
	)
}

func (b *ContextBuilder) history(ctx context.Context, threadID string, forceRefresh bool) ([]CachedMessage, error) {
	if !forceRefresh && b.hcache != nil {
		if msgs, ok := b.hcache.Fetch(ctx, threadID); ok {
			return msgs, nil
		}
	}

	// Cold load: trailing HistoryCap messages from the store, then
	// repopulate the list.
	stored, err := b.messages.FindByThread(ctx, threadID, HistoryCap)
	if err != nil {
		return nil, fmt.Errorf("load thread history %s: %w", threadID, err)
	}
	msgs := make([]CachedMessage, 0, len(stored))
	for _, m := range stored {
		msgs = append(msgs, CachedMessage{Role: m.Role, Content: m.Content})
	}
	if b.hcache != nil {
		b.hcache.Replace(ctx, threadID, msgs)
	}
	return msgs, nil
}

// truncate drops oldest non-system messages until the estimated token
// count fits under ratio·window. The system message is never dropped.
func (b *ContextBuilder) truncate(prompt []PromptMessage, window int) []PromptMessage {
	budget := int(float64(window) * b.cfg.WindowRatio)
	total := b.counter.CountMessages(prompt)
	if total <= budget {
		return prompt
	}

	kept := prompt
	for total > budget {
		dropped := false
		for i, m := range kept {
			if m.Role == entity.RoleSystem {
				continue
			}
			total -= b.counter.Count(m.Content) + 4
			kept = append(kept[:i], kept[i+1:]...)
			dropped = true
			break
		}
		if !dropped {
			break // only the system message remains
		}
	}
	b.logger.Debug("Context truncated",
		zap.Int("budget", budget),
		zap.Int("kept", len(kept)),
	)
	return kept
}

// --- in-process assistant LRU ---

type assistantLRU struct {
	mu    sync.Mutex
	cap   int
	ll    *list.List
	items map[string]*list.Element
}

type lruEntry struct {
	key string
	val *entity.Assistant
}

func newAssistantLRU(capacity int) *assistantLRU {
	return &assistantLRU{
		cap:   capacity,
		ll:    list.New(),
		items: make(map[string]*list.Element),
	}
}

func (c *assistantLRU) get(key string) (*entity.Assistant, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*lruEntry).val, true
}

func (c *assistantLRU) put(key string, val *entity.Assistant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry).val = val
		c.ll.MoveToFront(el)
		return
	}
	c.items[key] = c.ll.PushFront(&lruEntry{key: key, val: val})
	if c.ll.Len() > c.cap {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*lruEntry).key)
	}
}

func (c *assistantLRU) remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.ll.Remove(el)
		delete(c.items, key)
	}
}
