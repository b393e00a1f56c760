package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain/entity"
	"github.com/strandlabs/strand/internal/domain/repository"
	"github.com/strandlabs/strand/internal/domain/tool"
)

// ToolRequest declares one consumer tool.
type ToolRequest struct {
	Name        string         `json:"name" binding:"required"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Kind        string         `json:"kind"`
}

// ToolHandler serves the consumer tool registry. Platform tool names
// are reserved; declaring one is a conflict.
type ToolHandler struct {
	records  repository.ToolRepository
	registry *tool.Registry
	logger   *zap.Logger
}

// NewToolHandler creates the handler.
func NewToolHandler(records repository.ToolRepository, registry *tool.Registry, logger *zap.Logger) *ToolHandler {
	return &ToolHandler{records: records, registry: registry, logger: logger}
}

// Create handles POST /v1/tools.
func (h *ToolHandler) Create(c *gin.Context) {
	var req ToolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.registry.Has(req.Name) {
		c.JSON(http.StatusConflict, gin.H{"error": req.Name + " is a platform tool"})
		return
	}

	now := time.Now()
	record := &entity.ToolRecord{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Parameters:  req.Parameters,
		Kind:        req.Kind,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.records.Save(c.Request.Context(), record); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

// List handles GET /v1/tools: stored consumer records plus the names of
// the in-process platform tools.
func (h *ToolHandler) List(c *gin.Context) {
	records, err := h.records.List(c.Request.Context(), 100, 0)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tools":          records,
		"platform_tools": h.registry.Names(),
	})
}

// Get handles GET /v1/tools/:name.
func (h *ToolHandler) Get(c *gin.Context) {
	record, err := h.records.FindByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// Delete handles DELETE /v1/tools/:name.
func (h *ToolHandler) Delete(c *gin.Context) {
	if err := h.records.Delete(c.Request.Context(), c.Param("name")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("name")})
}
