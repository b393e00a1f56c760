package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain/entity"
	"github.com/strandlabs/strand/internal/domain/repository"
	"github.com/strandlabs/strand/internal/domain/service"
)

// AssistantRequest is the create/update payload.
type AssistantRequest struct {
	Name          string               `json:"name"`
	Model         string               `json:"model" binding:"required"`
	Instructions  string               `json:"instructions"`
	Tools         []entity.ToolSpec    `json:"tools"`
	ToolResources entity.ToolResources `json:"tool_resources"`
	MetaData      map[string]any       `json:"metadata"`
}

// AssistantHandler owns assistant CRUD. Updates invalidate both cache
// tiers and the compiled schema cache so running builds never see a
// stale tool catalog.
type AssistantHandler struct {
	assistants repository.AssistantRepository
	builder    *service.ContextBuilder
	validator  *service.SchemaValidator
	logger     *zap.Logger
}

// NewAssistantHandler creates the handler.
func NewAssistantHandler(
	assistants repository.AssistantRepository,
	builder *service.ContextBuilder,
	validator *service.SchemaValidator,
	logger *zap.Logger,
) *AssistantHandler {
	return &AssistantHandler{assistants: assistants, builder: builder, validator: validator, logger: logger}
}

// Create handles POST /v1/assistants.
func (h *AssistantHandler) Create(c *gin.Context) {
	var req AssistantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	now := time.Now()
	a := &entity.Assistant{
		ID:            uuid.NewString(),
		Name:          req.Name,
		Model:         req.Model,
		Instructions:  req.Instructions,
		Tools:         req.Tools,
		ToolResources: req.ToolResources,
		MetaData:      req.MetaData,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := h.assistants.Save(c.Request.Context(), a); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

// Get handles GET /v1/assistants/:id.
func (h *AssistantHandler) Get(c *gin.Context) {
	a, err := h.assistants.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// List handles GET /v1/assistants.
func (h *AssistantHandler) List(c *gin.Context) {
	limit, offset := pagination(c)
	assistants, err := h.assistants.List(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assistants": assistants})
}

// Update handles PATCH /v1/assistants/:id.
func (h *AssistantHandler) Update(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	a, err := h.assistants.FindByID(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}

	var req AssistantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a.Name = req.Name
	a.Model = req.Model
	a.Instructions = req.Instructions
	a.Tools = req.Tools
	a.ToolResources = req.ToolResources
	a.MetaData = req.MetaData
	a.UpdatedAt = time.Now()

	if err := h.assistants.Save(ctx, a); err != nil {
		respondError(c, err)
		return
	}
	h.builder.Invalidate(ctx, id)
	h.validator.Invalidate(id)
	c.JSON(http.StatusOK, a)
}

// Delete handles DELETE /v1/assistants/:id.
func (h *AssistantHandler) Delete(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if err := h.assistants.Delete(ctx, id); err != nil {
		respondError(c, err)
		return
	}
	h.builder.Invalidate(ctx, id)
	h.validator.Invalidate(id)
	c.JSON(http.StatusOK, gin.H{"id": id, "deleted": true})
}

// pagination reads limit/offset query params with sane bounds.
func pagination(c *gin.Context) (limit, offset int) {
	limit = intQuery(c, "limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset = intQuery(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
