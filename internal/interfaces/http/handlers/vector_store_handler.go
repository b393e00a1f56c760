package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain/entity"
	"github.com/strandlabs/strand/internal/domain/repository"
)

// VectorStoreRequest is the create/update payload. FileIDs reference
// file registry records; the vector worker owns the index itself.
type VectorStoreRequest struct {
	Name        string   `json:"name" binding:"required"`
	Description string   `json:"description"`
	FileIDs     []string `json:"file_ids"`
}

// VectorStoreHandler owns vector store registry CRUD.
type VectorStoreHandler struct {
	stores repository.VectorStoreRepository
	logger *zap.Logger
}

// NewVectorStoreHandler creates the handler.
func NewVectorStoreHandler(stores repository.VectorStoreRepository, logger *zap.Logger) *VectorStoreHandler {
	return &VectorStoreHandler{stores: stores, logger: logger}
}

// Create handles POST /v1/vector-stores.
func (h *VectorStoreHandler) Create(c *gin.Context) {
	var req VectorStoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	now := time.Now()
	v := &entity.VectorStore{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		FileIDs:     req.FileIDs,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.stores.Save(c.Request.Context(), v); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

// Get handles GET /v1/vector-stores/:id.
func (h *VectorStoreHandler) Get(c *gin.Context) {
	v, err := h.stores.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// List handles GET /v1/vector-stores.
func (h *VectorStoreHandler) List(c *gin.Context) {
	limit, offset := pagination(c)
	stores, err := h.stores.List(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"vector_stores": stores})
}

// Update handles PATCH /v1/vector-stores/:id.
func (h *VectorStoreHandler) Update(c *gin.Context) {
	ctx := c.Request.Context()
	v, err := h.stores.FindByID(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	var req VectorStoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	v.Name = req.Name
	v.Description = req.Description
	v.FileIDs = req.FileIDs
	v.UpdatedAt = time.Now()

	if err := h.stores.Save(ctx, v); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// Delete handles DELETE /v1/vector-stores/:id.
func (h *VectorStoreHandler) Delete(c *gin.Context) {
	if err := h.stores.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
}
