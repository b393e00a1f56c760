package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Connect opens and pings a Redis client.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// CancelFlags stores cross-process run cancellation flags under
// cancel:{run_id}. Flags expire after an hour so stale keys never leak.
type CancelFlags struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewCancelFlags creates the flag store.
func NewCancelFlags(rdb *redis.Client, logger *zap.Logger) *CancelFlags {
	return &CancelFlags{rdb: rdb, logger: logger}
}

func cancelKey(runID string) string {
	return "cancel:" + runID
}

// Set raises the cancel flag for a run.
func (c *CancelFlags) Set(ctx context.Context, runID string) error {
	return c.rdb.Set(ctx, cancelKey(runID), "1", time.Hour).Err()
}

// IsSet reports whether the flag is raised.
func (c *CancelFlags) IsSet(ctx context.Context, runID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, cancelKey(runID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Clear removes the flag once the run has settled.
func (c *CancelFlags) Clear(ctx context.Context, runID string) error {
	return c.rdb.Del(ctx, cancelKey(runID)).Err()
}
