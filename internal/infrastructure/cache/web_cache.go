package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// webSessionTTL bounds how long a fetched page set stays reusable.
const webSessionTTL = 3600 * time.Second

// WebSession is a paginated, readable rendering of one fetched URL.
type WebSession struct {
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	Pages     []string  `json:"pages"`
	FetchedAt time.Time `json:"fetched_at"`
}

// WebCache stores paginated page renderings under
// web_session:{md5(url)} so web_scroll and web_search never re-fetch.
type WebCache struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewWebCache creates the cache over an existing client.
func NewWebCache(rdb *redis.Client, logger *zap.Logger) *WebCache {
	return &WebCache{rdb: rdb, logger: logger}
}

// SessionKey derives the cache key for a URL.
func SessionKey(url string) string {
	sum := md5.Sum([]byte(url))
	return "web_session:" + hex.EncodeToString(sum[:])
}

// Get returns the cached session, ok=false on miss or error.
func (c *WebCache) Get(ctx context.Context, url string) (*WebSession, bool) {
	raw, err := c.rdb.Get(ctx, SessionKey(url)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("Web cache read failed", zap.String("url", url), zap.Error(err))
		}
		return nil, false
	}
	var s WebSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false
	}
	return &s, true
}

// Put stores a session with the standard TTL.
func (c *WebCache) Put(ctx context.Context, s *WebSession) {
	raw, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, SessionKey(s.URL), raw, webSessionTTL).Err(); err != nil {
		c.logger.Debug("Web cache write failed", zap.String("url", s.URL), zap.Error(err))
	}
}

// Invalidate drops a session (force_refresh).
func (c *WebCache) Invalidate(ctx context.Context, url string) {
	if err := c.rdb.Del(ctx, SessionKey(url)).Err(); err != nil {
		c.logger.Debug("Web cache delete failed", zap.String("url", url), zap.Error(err))
	}
}
