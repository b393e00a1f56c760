package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain/entity"
	"github.com/strandlabs/strand/internal/domain/repository"
	"github.com/strandlabs/strand/internal/domain/service"
)

// ThreadHandler owns thread and message CRUD. Thread deletion cascades
// to messages in the store and drops the thread-history cache.
type ThreadHandler struct {
	threads  repository.ThreadRepository
	messages repository.MessageRepository
	builder  *service.ContextBuilder
	logger   *zap.Logger
}

// NewThreadHandler creates the handler.
func NewThreadHandler(
	threads repository.ThreadRepository,
	messages repository.MessageRepository,
	builder *service.ContextBuilder,
	logger *zap.Logger,
) *ThreadHandler {
	return &ThreadHandler{threads: threads, messages: messages, builder: builder, logger: logger}
}

// Create handles POST /v1/threads.
func (h *ThreadHandler) Create(c *gin.Context) {
	var req struct {
		MetaData map[string]any `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t := &entity.Thread{ID: uuid.NewString(), MetaData: req.MetaData, CreatedAt: time.Now()}
	if err := h.threads.Save(c.Request.Context(), t); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

// Get handles GET /v1/threads/:id.
func (h *ThreadHandler) Get(c *gin.Context) {
	t, err := h.threads.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// Delete handles DELETE /v1/threads/:id.
func (h *ThreadHandler) Delete(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if err := h.threads.Delete(ctx, id); err != nil {
		respondError(c, err)
		return
	}
	h.builder.InvalidateHistory(ctx, id)
	c.JSON(http.StatusOK, gin.H{"id": id, "deleted": true})
}

// MessageRequest appends one message to a thread.
type MessageRequest struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// CreateMessage handles POST /v1/threads/:id/messages.
func (h *ThreadHandler) CreateMessage(c *gin.Context) {
	ctx := c.Request.Context()
	threadID := c.Param("id")
	if _, err := h.threads.FindByID(ctx, threadID); err != nil {
		respondError(c, err)
		return
	}

	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := ""
	if key := keyFrom(c); key != nil {
		userID = key.UserID
	}
	msg := &entity.Message{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Role:      entity.NormalizeRole(req.Role),
		Content:   req.Content,
		SenderID:  userID,
		CreatedAt: time.Now(),
	}
	if err := h.messages.Save(ctx, msg); err != nil {
		respondError(c, err)
		return
	}
	h.builder.AppendToHistory(ctx, threadID, msg.Role, msg.Content)
	c.JSON(http.StatusCreated, msg)
}

// ListMessages handles GET /v1/threads/:id/messages.
func (h *ThreadHandler) ListMessages(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	if limit <= 0 || limit > service.HistoryCap {
		limit = 50
	}
	msgs, err := h.messages.FindByThread(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// GetMessage handles GET /v1/messages/:id.
func (h *ThreadHandler) GetMessage(c *gin.Context) {
	msg, err := h.messages.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// DeleteMessage handles DELETE /v1/messages/:id.
func (h *ThreadHandler) DeleteMessage(c *gin.Context) {
	ctx := c.Request.Context()
	msg, err := h.messages.FindByID(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.messages.Delete(ctx, msg.ID); err != nil {
		respondError(c, err)
		return
	}
	// The cached history window may contain the deleted row.
	h.builder.InvalidateHistory(ctx, msg.ThreadID)
	c.JSON(http.StatusOK, gin.H{"id": msg.ID, "deleted": true})
}
