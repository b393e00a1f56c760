package cache

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain/service"
)

// HistoryCache keeps the trailing window of a thread's messages in a
// Redis list (thread:{id}:history), bounded at service.HistoryCap.
// The list is authoritative of recency; the store of truth. Errors
// degrade to a miss so the builder cold-loads from the store.
type HistoryCache struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewHistoryCache creates the cache over an existing client.
func NewHistoryCache(rdb *redis.Client, logger *zap.Logger) *HistoryCache {
	return &HistoryCache{rdb: rdb, logger: logger}
}

func historyKey(threadID string) string {
	return "thread:" + threadID + ":history"
}

// Fetch returns the cached window oldest-first, ok=false on miss.
func (c *HistoryCache) Fetch(ctx context.Context, threadID string) ([]service.CachedMessage, bool) {
	raws, err := c.rdb.LRange(ctx, historyKey(threadID), int64(-service.HistoryCap), -1).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("History cache read failed", zap.String("thread_id", threadID), zap.Error(err))
		}
		return nil, false
	}
	if len(raws) == 0 {
		return nil, false
	}
	msgs := make([]service.CachedMessage, 0, len(raws))
	for _, raw := range raws {
		var m service.CachedMessage
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			c.logger.Warn("History cache entry corrupt, invalidating", zap.String("thread_id", threadID))
			c.Invalidate(ctx, threadID)
			return nil, false
		}
		msgs = append(msgs, m)
	}
	return msgs, true
}

// Replace repopulates the list from a cold load and trims to the cap.
func (c *HistoryCache) Replace(ctx context.Context, threadID string, msgs []service.CachedMessage) {
	key := historyKey(threadID)
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	for _, m := range msgs {
		raw, err := json.Marshal(m)
		if err != nil {
			continue
		}
		pipe.RPush(ctx, key, raw)
	}
	pipe.LTrim(ctx, key, int64(-service.HistoryCap), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Debug("History cache repopulate failed", zap.String("thread_id", threadID), zap.Error(err))
	}
}

// Append pushes one message and trims.
func (c *HistoryCache) Append(ctx context.Context, threadID string, msg service.CachedMessage) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	key := historyKey(threadID)
	pipe := c.rdb.TxPipeline()
	pipe.RPush(ctx, key, raw)
	pipe.LTrim(ctx, key, int64(-service.HistoryCap), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Debug("History cache append failed", zap.String("thread_id", threadID), zap.Error(err))
	}
}

// Invalidate drops the list (thread delete, forced refresh).
func (c *HistoryCache) Invalidate(ctx context.Context, threadID string) {
	if err := c.rdb.Del(ctx, historyKey(threadID)).Err(); err != nil {
		c.logger.Debug("History cache delete failed", zap.String("thread_id", threadID), zap.Error(err))
	}
}
