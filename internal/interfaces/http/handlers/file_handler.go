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

// FileRequest registers file metadata. The bytes live in the file
// worker; this surface only tracks what was uploaded.
type FileRequest struct {
	Filename string `json:"filename" binding:"required"`
	Purpose  string `json:"purpose"`
	Bytes    int64  `json:"bytes"`
	MimeType string `json:"mime_type"`
}

// FileHandler owns file registry CRUD. Records are immutable; there is
// no update.
type FileHandler struct {
	files  repository.FileRepository
	logger *zap.Logger
}

// NewFileHandler creates the handler.
func NewFileHandler(files repository.FileRepository, logger *zap.Logger) *FileHandler {
	return &FileHandler{files: files, logger: logger}
}

// Create handles POST /v1/files.
func (h *FileHandler) Create(c *gin.Context) {
	var req FileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	f := &entity.FileRecord{
		ID:        uuid.NewString(),
		Filename:  req.Filename,
		Purpose:   req.Purpose,
		Bytes:     req.Bytes,
		MimeType:  req.MimeType,
		CreatedAt: time.Now(),
	}
	if err := h.files.Save(c.Request.Context(), f); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, f)
}

// Get handles GET /v1/files/:id.
func (h *FileHandler) Get(c *gin.Context) {
	f, err := h.files.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

// List handles GET /v1/files.
func (h *FileHandler) List(c *gin.Context) {
	limit, offset := pagination(c)
	files, err := h.files.List(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

// Delete handles DELETE /v1/files/:id.
func (h *FileHandler) Delete(c *gin.Context) {
	if err := h.files.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
}
