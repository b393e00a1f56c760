package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain/entity"
)

// assistantTTL bounds staleness of the shared assistant cache; the
// store stays authoritative of truth.
const assistantTTL = 10 * time.Minute

// AssistantCache is the shared Redis tier of the assistant lookup
// (key assistant:{id}). All operations fail open: a Redis error is a
// cache miss, never a request failure.
type AssistantCache struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewAssistantCache creates the cache over an existing client.
func NewAssistantCache(rdb *redis.Client, logger *zap.Logger) *AssistantCache {
	return &AssistantCache{rdb: rdb, logger: logger}
}

func assistantKey(id string) string {
	return "assistant:" + id
}

// cachedAssistant is the wire form: the serialized tool catalog and the
// instruction text are cached alongside the core fields so a hit skips
// recomposition.
type cachedAssistant struct {
	Assistant   *entity.Assistant `json:"assistant"`
	ToolCatalog string            `json:"tool_catalog"`
}

// Get returns the cached assistant, ok=false on miss or error.
func (c *AssistantCache) Get(ctx context.Context, id string) (*entity.Assistant, bool) {
	raw, err := c.rdb.Get(ctx, assistantKey(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("Assistant cache read failed", zap.String("id", id), zap.Error(err))
		}
		return nil, false
	}
	var entry cachedAssistant
	if err := json.Unmarshal(raw, &entry); err != nil || entry.Assistant == nil {
		c.logger.Warn("Assistant cache entry corrupt, dropping", zap.String("id", id))
		c.Invalidate(ctx, id)
		return nil, false
	}
	return entry.Assistant, true
}

// Set writes through to the shared tier.
func (c *AssistantCache) Set(ctx context.Context, a *entity.Assistant) {
	raw, err := json.Marshal(cachedAssistant{Assistant: a, ToolCatalog: a.ToolCatalogJSON()})
	if err != nil {
		c.logger.Error("Assistant cache encode failed", zap.String("id", a.ID), zap.Error(err))
		return
	}
	if err := c.rdb.Set(ctx, assistantKey(a.ID), raw, assistantTTL).Err(); err != nil {
		c.logger.Debug("Assistant cache write failed", zap.String("id", a.ID), zap.Error(err))
	}
}

// Invalidate drops the shared entry (assistant update/delete).
func (c *AssistantCache) Invalidate(ctx context.Context, id string) {
	if err := c.rdb.Del(ctx, assistantKey(id)).Err(); err != nil {
		c.logger.Debug("Assistant cache delete failed", zap.String("id", id), zap.Error(err))
	}
}
