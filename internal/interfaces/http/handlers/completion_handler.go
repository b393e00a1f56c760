package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain/entity"
	"github.com/strandlabs/strand/internal/domain/repository"
	"github.com/strandlabs/strand/internal/domain/service"
	"github.com/strandlabs/strand/pkg/safego"
)

// CompletionRequest starts one streamed run. The user turn is either
// inline input or the id of a message already appended to the thread.
// RunID, when set, attaches to that run: an existing queued or
// pending_action run resumes; an unknown id becomes the new run's id.
type CompletionRequest struct {
	RunID       string `json:"run_id"`
	AssistantID string `json:"assistant_id"`
	ThreadID    string `json:"thread_id"`
	Input       string `json:"input"`
	MessageID   string `json:"message_id"`
	Model       string `json:"model"`
	// APIKey is an optional upstream provider credential used for this
	// run only.
	APIKey string `json:"api_key"`
}

// CompletionHandler owns POST /v1/completions: create (or reuse) the
// thread, persist the user message, create the run, and stream chunks
// back as SSE until the run settles or hands off to the consumer.
type CompletionHandler struct {
	orchestrator *service.Orchestrator
	builder      *service.ContextBuilder
	threads      repository.ThreadRepository
	messages     repository.MessageRepository
	runs         repository.RunRepository
	logger       *zap.Logger
}

// NewCompletionHandler creates the handler.
func NewCompletionHandler(
	orchestrator *service.Orchestrator,
	builder *service.ContextBuilder,
	threads repository.ThreadRepository,
	messages repository.MessageRepository,
	runs repository.RunRepository,
	logger *zap.Logger,
) *CompletionHandler {
	return &CompletionHandler{
		orchestrator: orchestrator,
		builder:      builder,
		threads:      threads,
		messages:     messages,
		runs:         runs,
		logger:       logger,
	}
}

// Create handles POST /v1/completions.
func (h *CompletionHandler) Create(c *gin.Context) {
	var req CompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	// Attach to an existing run when the caller names one. Execute
	// rejects runs that are neither startable nor resumable.
	if req.RunID != "" {
		if run, err := h.runs.FindByID(ctx, req.RunID); err == nil {
			h.stream(c, run, req.APIKey)
			return
		}
	}

	if req.AssistantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "assistant_id is required"})
		return
	}
	if req.Input == "" && req.MessageID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "input or message_id is required"})
		return
	}

	assistant, err := h.builder.Assistant(ctx, req.AssistantID, false)
	if err != nil {
		respondError(c, err)
		return
	}

	userID := ""
	if key := keyFrom(c); key != nil {
		userID = key.UserID
	}

	threadID := req.ThreadID
	if req.MessageID != "" {
		// The user turn is already persisted; the builder reads it from
		// the thread history.
		msg, err := h.messages.FindByID(ctx, req.MessageID)
		if err != nil {
			respondError(c, err)
			return
		}
		threadID = msg.ThreadID
	} else {
		if threadID == "" {
			threadID = uuid.NewString()
			if err := h.threads.Save(ctx, &entity.Thread{ID: threadID, CreatedAt: time.Now()}); err != nil {
				respondError(c, err)
				return
			}
		} else if _, err := h.threads.FindByID(ctx, threadID); err != nil {
			respondError(c, err)
			return
		}

		msg := &entity.Message{
			ID:        uuid.NewString(),
			ThreadID:  threadID,
			Role:      entity.RoleUser,
			Content:   req.Input,
			SenderID:  userID,
			CreatedAt: time.Now(),
		}
		if err := h.messages.Save(ctx, msg); err != nil {
			respondError(c, err)
			return
		}
		h.builder.AppendToHistory(ctx, threadID, entity.RoleUser, req.Input)
	}

	model := req.Model
	if model == "" {
		model = assistant.Model
	}
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	run := &entity.Run{
		ID:           runID,
		ThreadID:     threadID,
		AssistantID:  assistant.ID,
		UserID:       userID,
		Status:       entity.RunQueued,
		Model:        model,
		Instructions: assistant.Instructions,
		CreatedAt:    time.Now(),
	}
	if err := h.runs.Save(ctx, run); err != nil {
		respondError(c, err)
		return
	}

	h.stream(c, run, req.APIKey)
}

// stream drives the run and writes SSE frames until the chunk channel
// closes.
func (h *CompletionHandler) stream(c *gin.Context, run *entity.Run, apiKey string) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	// The run keeps executing even if the client disconnects; chunks
	// still reach the event bus and the Redis mirror.
	runCtx := context.WithoutCancel(c.Request.Context())

	out := make(chan entity.StreamChunk, 64)
	safego.Go(h.logger, "run-"+run.ID, func() {
		h.orchestrator.Execute(runCtx, run.ID, apiKey, out)
	})

	clientGone := c.Request.Context().Done()
	first := true
	for {
		select {
		case chunk, ok := <-out:
			if !ok {
				io.WriteString(c.Writer, "data: [DONE]\n\n")
				c.Writer.Flush()
				return
			}
			if first {
				first = false
				h.writeFrame(c.Writer, entity.StreamChunk{
					Type: entity.ChunkStatus, Content: "started", RunID: run.ID,
				})
				c.Writer.Flush()
			}
			h.writeFrame(c.Writer, chunk)
			c.Writer.Flush()
		case <-clientGone:
			// Drain in the background so Execute never blocks on out.
			safego.Go(h.logger, "drain-"+run.ID, func() {
				for range out {
				}
			})
			return
		}
	}
}

func (h *CompletionHandler) writeFrame(w io.Writer, chunk entity.StreamChunk) {
	raw, err := json.Marshal(chunk)
	if err != nil {
		h.logger.Error("Failed to encode SSE chunk", zap.Error(err))
		return
	}
	io.WriteString(w, "data: ")
	w.Write(raw)
	io.WriteString(w, "\n\n")
}
