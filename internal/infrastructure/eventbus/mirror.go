package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain/entity"
)

const (
	// mirrorMaxLen bounds each run's stream; trimming is approximate
	// (XADD MAXLEN ~) so Redis can trim lazily.
	mirrorMaxLen = 1000
	// mirrorTTL expires finished-run streams.
	mirrorTTL = time.Hour

	kindChunk = "chunk"
	kindEvent = "event"
)

// MirrorEntry is one replayed item from a run's Redis stream.
type MirrorEntry struct {
	ID    string
	Chunk *entity.StreamChunk
	Event *entity.RunEvent
}

// StreamMirror appends every published chunk and event to a Redis
// stream (stream:{run_id}) so reconnecting clients and sibling
// processes can replay what they missed. Writes fail open: a Redis
// error costs the mirror entry, never the live delivery.
type StreamMirror struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewStreamMirror creates the mirror over an existing client.
func NewStreamMirror(rdb *redis.Client, logger *zap.Logger) *StreamMirror {
	return &StreamMirror{rdb: rdb, logger: logger}
}

func streamKey(runID string) string {
	return "stream:" + runID
}

// AppendChunk mirrors one chunk.
func (m *StreamMirror) AppendChunk(ctx context.Context, runID string, chunk entity.StreamChunk) {
	raw, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	m.append(ctx, runID, kindChunk, raw)
}

// AppendEvent mirrors one lifecycle event.
func (m *StreamMirror) AppendEvent(ctx context.Context, runID string, event entity.RunEvent) {
	raw, err := json.Marshal(event)
	if err != nil {
		return
	}
	m.append(ctx, runID, kindEvent, raw)
}

func (m *StreamMirror) append(ctx context.Context, runID, kind string, raw []byte) {
	key := streamKey(runID)
	pipe := m.rdb.Pipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: mirrorMaxLen,
		Approx: true,
		Values: map[string]any{"kind": kind, "data": string(raw)},
	})
	pipe.Expire(ctx, key, mirrorTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		m.logger.Debug("Stream mirror append failed",
			zap.String("run_id", runID),
			zap.Error(err),
		)
	}
}

// Replay returns every mirrored entry after fromID ("" for the full
// stream) along with the last entry ID, so a reconnecting client can
// resume from where it left off.
func (m *StreamMirror) Replay(ctx context.Context, runID, fromID string) ([]MirrorEntry, string, error) {
	start := "-"
	if fromID != "" {
		// Exclusive range: skip the entry the client already has.
		start = "(" + fromID
	}
	msgs, err := m.rdb.XRange(ctx, streamKey(runID), start, "+").Result()
	if err != nil {
		return nil, fromID, err
	}

	entries := make([]MirrorEntry, 0, len(msgs))
	last := fromID
	for _, msg := range msgs {
		last = msg.ID
		kind, _ := msg.Values["kind"].(string)
		data, _ := msg.Values["data"].(string)
		entry := MirrorEntry{ID: msg.ID}
		switch kind {
		case kindChunk:
			var chunk entity.StreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			entry.Chunk = &chunk
		case kindEvent:
			var event entity.RunEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				continue
			}
			entry.Event = &event
		default:
			continue
		}
		entries = append(entries, entry)
	}
	return entries, last, nil
}

// Drop removes a run's stream early (run delete).
func (m *StreamMirror) Drop(ctx context.Context, runID string) {
	if err := m.rdb.Del(ctx, streamKey(runID)).Err(); err != nil {
		m.logger.Debug("Stream mirror drop failed",
			zap.String("run_id", runID),
			zap.Error(err),
		)
	}
}
