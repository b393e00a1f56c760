package eventbus

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain/entity"
)

// subscriberBuffer sizes each subscriber's channel. A subscriber that
// falls this far behind starts losing chunks rather than stalling the
// run; the Redis mirror keeps the full record for replay.
const subscriberBuffer = 256

// ChunkSubscription is one live consumer of a run's chunk stream.
type ChunkSubscription struct {
	C      <-chan entity.StreamChunk
	ch     chan entity.StreamChunk
	cancel func()
}

// Cancel detaches the subscription and closes its channel.
func (s *ChunkSubscription) Cancel() { s.cancel() }

// EventSubscription is one live consumer of a run's lifecycle events.
type EventSubscription struct {
	C      <-chan entity.RunEvent
	ch     chan entity.RunEvent
	cancel func()
}

// Cancel detaches the subscription and closes its channel.
func (s *EventSubscription) Cancel() { s.cancel() }

// Bus fans each run's chunks and lifecycle events out to any number of
// subscribers and mirrors them to Redis for cross-process reads and
// reconnect replay. Publishing never blocks: a full subscriber buffer
// drops the chunk for that subscriber only.
type Bus struct {
	mu        sync.RWMutex
	chunkSubs map[string][]*ChunkSubscription
	eventSubs map[string][]*EventSubscription
	mirror    *StreamMirror
	logger    *zap.Logger
}

// NewBus creates the bus. mirror may be nil in tests.
func NewBus(mirror *StreamMirror, logger *zap.Logger) *Bus {
	return &Bus{
		chunkSubs: make(map[string][]*ChunkSubscription),
		eventSubs: make(map[string][]*EventSubscription),
		mirror:    mirror,
		logger:    logger,
	}
}

// Subscribe attaches a chunk consumer to a run.
func (b *Bus) Subscribe(runID string) *ChunkSubscription {
	ch := make(chan entity.StreamChunk, subscriberBuffer)
	sub := &ChunkSubscription{C: ch, ch: ch}
	sub.cancel = func() { b.dropChunkSub(runID, sub) }

	b.mu.Lock()
	b.chunkSubs[runID] = append(b.chunkSubs[runID], sub)
	b.mu.Unlock()
	return sub
}

// SubscribeEvents attaches a lifecycle-event consumer to a run.
func (b *Bus) SubscribeEvents(runID string) *EventSubscription {
	ch := make(chan entity.RunEvent, subscriberBuffer)
	sub := &EventSubscription{C: ch, ch: ch}
	sub.cancel = func() { b.dropEventSub(runID, sub) }

	b.mu.Lock()
	b.eventSubs[runID] = append(b.eventSubs[runID], sub)
	b.mu.Unlock()
	return sub
}

// Publish delivers one chunk to every subscriber and the mirror.
func (b *Bus) Publish(ctx context.Context, runID string, chunk entity.StreamChunk) {
	if b.mirror != nil {
		b.mirror.AppendChunk(ctx, runID, chunk)
	}

	b.mu.RLock()
	subs := b.chunkSubs[runID]
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- chunk:
		default:
			b.logger.Warn("Subscriber buffer full, dropping chunk",
				zap.String("run_id", runID),
				zap.String("type", string(chunk.Type)),
			)
		}
	}
}

// PublishEvent delivers one lifecycle event to every subscriber and the
// mirror.
func (b *Bus) PublishEvent(ctx context.Context, runID string, event entity.RunEvent) {
	if b.mirror != nil {
		b.mirror.AppendEvent(ctx, runID, event)
	}

	b.mu.RLock()
	subs := b.eventSubs[runID]
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- event:
		default:
			b.logger.Warn("Event subscriber buffer full, dropping event",
				zap.String("run_id", runID),
				zap.String("type", event.Type),
			)
		}
	}
}

// CloseRun closes every subscriber channel for a finished run so SSE
// loops drain and exit.
func (b *Bus) CloseRun(runID string) {
	b.mu.Lock()
	chunkSubs := b.chunkSubs[runID]
	eventSubs := b.eventSubs[runID]
	delete(b.chunkSubs, runID)
	delete(b.eventSubs, runID)
	b.mu.Unlock()

	for _, sub := range chunkSubs {
		close(sub.ch)
	}
	for _, sub := range eventSubs {
		close(sub.ch)
	}
}

func (b *Bus) dropChunkSub(runID string, target *ChunkSubscription) {
	b.mu.Lock()
	subs := b.chunkSubs[runID]
	for i, sub := range subs {
		if sub == target {
			b.chunkSubs[runID] = append(subs[:i], subs[i+1:]...)
			close(sub.ch)
			break
		}
	}
	if len(b.chunkSubs[runID]) == 0 {
		delete(b.chunkSubs, runID)
	}
	b.mu.Unlock()
}

func (b *Bus) dropEventSub(runID string, target *EventSubscription) {
	b.mu.Lock()
	subs := b.eventSubs[runID]
	for i, sub := range subs {
		if sub == target {
			b.eventSubs[runID] = append(subs[:i], subs[i+1:]...)
			close(sub.ch)
			break
		}
	}
	if len(b.eventSubs[runID]) == 0 {
		delete(b.eventSubs, runID)
	}
	b.mu.Unlock()
}
