package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain/repository"
	"github.com/strandlabs/strand/internal/domain/service"
)

// APIKeyHandler mints, lists, and revokes caller credentials. The
// plaintext key appears in the create response and nowhere else.
type APIKeyHandler struct {
	service *service.KeyService
	keys    repository.APIKeyRepository
	logger  *zap.Logger
}

// NewAPIKeyHandler creates the handler.
func NewAPIKeyHandler(svc *service.KeyService, keys repository.APIKeyRepository, logger *zap.Logger) *APIKeyHandler {
	return &APIKeyHandler{service: svc, keys: keys, logger: logger}
}

// APIKeyRequest is the mint payload.
type APIKeyRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Name   string `json:"name"`
}

// Create handles POST /v1/api-keys.
func (h *APIKeyHandler) Create(c *gin.Context) {
	var req APIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	plaintext, key, err := h.service.Mint(c.Request.Context(), req.UserID, req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	h.logger.Info("API key minted", zap.String("prefix", key.Prefix), zap.String("user_id", key.UserID))

	c.JSON(http.StatusCreated, gin.H{
		"key":        plaintext,
		"prefix":     key.Prefix,
		"name":       key.Name,
		"user_id":    key.UserID,
		"created_at": key.CreatedAt,
	})
}

// List handles GET /v1/api-keys?user_id=... Hashes never leave the
// store; only metadata is returned.
func (h *APIKeyHandler) List(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	keys, err := h.keys.ListByUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]gin.H, 0, len(keys))
	for _, k := range keys {
		out = append(out, gin.H{
			"prefix":       k.Prefix,
			"name":         k.Name,
			"user_id":      k.UserID,
			"is_active":    k.IsActive,
			"created_at":   k.CreatedAt,
			"last_used_at": k.LastUsedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"api_keys": out})
}

// Revoke handles DELETE /v1/api-keys/:prefix.
func (h *APIKeyHandler) Revoke(c *gin.Context) {
	prefix := c.Param("prefix")
	if err := h.service.Revoke(c.Request.Context(), prefix); err != nil {
		respondError(c, err)
		return
	}
	h.logger.Info("API key revoked", zap.String("prefix", prefix))
	c.JSON(http.StatusOK, gin.H{"prefix": prefix, "revoked": true})
}
