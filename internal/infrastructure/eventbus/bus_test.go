package eventbus

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain/entity"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

// === Fan-out ===

func TestBus_FanOutToAllSubscribers(t *testing.T) {
	bus := NewBus(nil, testLogger())
	sub1 := bus.Subscribe("run-1")
	sub2 := bus.Subscribe("run-1")
	other := bus.Subscribe("run-2")

	bus.Publish(context.Background(), "run-1", entity.StreamChunk{Type: entity.ChunkContent, Content: "hi"})
	bus.CloseRun("run-1")
	bus.CloseRun("run-2")

	for i, sub := range []*ChunkSubscription{sub1, sub2} {
		chunk, ok := <-sub.C
		if !ok {
			t.Fatalf("subscriber %d closed before delivery", i)
		}
		if chunk.Content != "hi" {
			t.Errorf("subscriber %d: got %v", i, chunk.Content)
		}
	}
	if _, ok := <-other.C; ok {
		t.Error("unrelated run received the chunk")
	}
}

func TestBus_EventFanOut(t *testing.T) {
	bus := NewBus(nil, testLogger())
	sub := bus.SubscribeEvents("run-1")

	bus.PublishEvent(context.Background(), "run-1", entity.RunEvent{RunID: "run-1", Type: entity.EventRunEnded})
	bus.CloseRun("run-1")

	event, ok := <-sub.C
	if !ok {
		t.Fatal("channel closed before delivery")
	}
	if event.Type != entity.EventRunEnded {
		t.Errorf("type: got %q", event.Type)
	}
}

// === Slow subscriber drops, never blocks ===

func TestBus_FullBufferDropsForThatSubscriberOnly(t *testing.T) {
	bus := NewBus(nil, testLogger())
	slow := bus.Subscribe("run-1")
	fast := bus.Subscribe("run-1")

	// Overrun the slow subscriber's buffer without reading; Publish must
	// not block.
	total := subscriberBuffer + 10
	done := make(chan struct{})
	go func() {
		for i := 0; i < total; i++ {
			bus.Publish(context.Background(), "run-1", entity.StreamChunk{Type: entity.ChunkContent, Content: i})
			// Keep the fast subscriber drained.
			select {
			case <-fast.C:
			default:
			}
		}
		close(done)
	}()
	<-done

	bus.CloseRun("run-1")

	received := 0
	for range slow.C {
		received++
	}
	if received != subscriberBuffer {
		t.Errorf("slow subscriber: got %d chunks, want %d buffered", received, subscriberBuffer)
	}
}

// === CloseRun ===

func TestBus_CloseRunClosesChannels(t *testing.T) {
	bus := NewBus(nil, testLogger())
	chunkSub := bus.Subscribe("run-1")
	eventSub := bus.SubscribeEvents("run-1")

	bus.CloseRun("run-1")

	if _, ok := <-chunkSub.C; ok {
		t.Error("chunk channel still open")
	}
	if _, ok := <-eventSub.C; ok {
		t.Error("event channel still open")
	}

	// Publishing after close is a no-op, not a panic.
	bus.Publish(context.Background(), "run-1", entity.StreamChunk{Type: entity.ChunkContent})
	bus.PublishEvent(context.Background(), "run-1", entity.RunEvent{Type: entity.EventError})
}

// === Cancel detaches one subscriber ===

func TestBus_CancelDetachesSubscriber(t *testing.T) {
	bus := NewBus(nil, testLogger())
	sub1 := bus.Subscribe("run-1")
	sub2 := bus.Subscribe("run-1")

	sub1.Cancel()
	if _, ok := <-sub1.C; ok {
		t.Error("cancelled channel still open")
	}

	bus.Publish(context.Background(), "run-1", entity.StreamChunk{Type: entity.ChunkContent, Content: "after"})
	bus.CloseRun("run-1")

	chunk, ok := <-sub2.C
	if !ok || chunk.Content != "after" {
		t.Errorf("remaining subscriber: ok=%v chunk=%v", ok, chunk.Content)
	}

	// Double cancel is safe.
	sub2.Cancel()
}
