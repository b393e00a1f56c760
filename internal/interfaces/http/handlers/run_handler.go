package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain/entity"
	"github.com/strandlabs/strand/internal/domain/repository"
	"github.com/strandlabs/strand/internal/domain/service"
	"github.com/strandlabs/strand/internal/infrastructure/eventbus"
)

// eventsPollInterval is the fallback run-status poll of the events
// stream; live events arrive push-style from the bus.
const eventsPollInterval = 500 * time.Millisecond

// RunHandler serves run reads, cancellation, and the lifecycle event
// stream.
type RunHandler struct {
	runs    repository.RunRepository
	sm      *service.RunStateMachine
	cancels service.CancelStore
	bus     *eventbus.Bus
	mirror  *eventbus.StreamMirror
	logger  *zap.Logger
}

// NewRunHandler creates the handler.
func NewRunHandler(
	runs repository.RunRepository,
	sm *service.RunStateMachine,
	cancels service.CancelStore,
	bus *eventbus.Bus,
	mirror *eventbus.StreamMirror,
	logger *zap.Logger,
) *RunHandler {
	return &RunHandler{runs: runs, sm: sm, cancels: cancels, bus: bus, mirror: mirror, logger: logger}
}

// Get handles GET /v1/runs/:id.
func (h *RunHandler) Get(c *gin.Context) {
	run, err := h.runs.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// ListByThread handles GET /v1/threads/:id/runs.
func (h *RunHandler) ListByThread(c *gin.Context) {
	runs, err := h.runs.FindByThread(c.Request.Context(), c.Param("id"), 50)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// Cancel handles POST /v1/runs/:id/cancel. It raises the shared cancel
// flag; the run's orchestrator loop notices within one poll interval.
// A run parked in pending_action has no live loop, so it is settled
// here directly.
func (h *RunHandler) Cancel(c *gin.Context) {
	ctx := c.Request.Context()
	run, err := h.runs.FindByID(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if run.Status.IsTerminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "run is " + string(run.Status)})
		return
	}

	if err := h.cancels.Set(ctx, run.ID); err != nil {
		h.logger.Warn("Cancel flag write failed", zap.String("run_id", run.ID), zap.Error(err))
	}

	if run.Status == entity.RunQueued || run.Status == entity.RunPendingAction {
		if err := h.sm.Transition(ctx, run, entity.RunCancelling, ""); err == nil {
			if err := h.sm.Transition(ctx, run, entity.RunCancelled, ""); err != nil {
				respondError(c, err)
				return
			}
			h.bus.PublishEvent(ctx, run.ID, entity.RunEvent{
				RunID: run.ID, Type: entity.EventCancelled, Timestamp: time.Now(),
			})
			h.bus.CloseRun(run.ID)
		}
	}

	c.JSON(http.StatusOK, gin.H{"id": run.ID, "status": string(run.Status)})
}

// Events handles GET /v1/runs/:id/events: named SSE lifecycle events.
// Missed events are replayed from the Redis mirror (Last-Event-ID),
// then live events stream from the bus with a status poll as fallback
// for cross-process terminality.
func (h *RunHandler) Events(c *gin.Context) {
	ctx := c.Request.Context()
	runID := c.Param("id")
	run, err := h.runs.FindByID(ctx, runID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	sub := h.bus.SubscribeEvents(runID)
	defer sub.Cancel()

	// Replay first so a reconnecting client catches up.
	entries, _, err := h.mirror.Replay(ctx, runID, c.GetHeader("Last-Event-ID"))
	if err != nil {
		h.logger.Debug("Event replay failed", zap.String("run_id", runID), zap.Error(err))
	}
	for _, e := range entries {
		if e.Event != nil {
			h.writeEvent(c.Writer, e.ID, *e.Event)
		}
	}
	c.Writer.Flush()

	if run.Status.IsTerminal() {
		return
	}

	ticker := time.NewTicker(eventsPollInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			h.writeEvent(c.Writer, "", event)
			c.Writer.Flush()
		case <-ticker.C:
			current, err := h.runs.FindByID(ctx, runID)
			if err != nil {
				return
			}
			if current.Status.IsTerminal() {
				h.writeEvent(c.Writer, "", terminalEvent(current))
				c.Writer.Flush()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// terminalEvent maps a terminal status onto its event name for the
// poll fallback path.
func terminalEvent(run *entity.Run) entity.RunEvent {
	eventType := entity.EventRunEnded
	switch run.Status {
	case entity.RunCancelled:
		eventType = entity.EventCancelled
	case entity.RunFailed, entity.RunExpired:
		eventType = entity.EventError
	}
	return entity.RunEvent{
		RunID:     run.ID,
		Type:      eventType,
		Data:      gin.H{"status": string(run.Status), "last_error": run.LastError},
		Timestamp: time.Now(),
	}
}

func (h *RunHandler) writeEvent(w io.Writer, id string, event entity.RunEvent) {
	raw, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to encode run event", zap.Error(err))
		return
	}
	if id != "" {
		io.WriteString(w, "id: "+id+"\n")
	}
	io.WriteString(w, "event: "+event.Type+"\n")
	io.WriteString(w, "data: ")
	w.Write(raw)
	io.WriteString(w, "\n\n")
}
