package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain/entity"
	"github.com/strandlabs/strand/internal/domain/service"
)

// ContextKeyAPIKey is where the verified credential lands in the gin
// context.
const ContextKeyAPIKey = "api_key"

// Auth verifies the X-API-Key header against the credential store and
// aborts with 401 on failure.
func Auth(keys *service.KeyService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("X-API-Key")
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing X-API-Key header"})
			return
		}

		key, err := keys.Verify(c.Request.Context(), raw)
		if err != nil {
			status := http.StatusUnauthorized
			msg := "invalid api key"
			if errors.Is(err, entity.ErrKeyRevoked) {
				msg = "api key revoked"
			}
			c.AbortWithStatusJSON(status, gin.H{"error": msg})
			return
		}

		c.Set(ContextKeyAPIKey, key)
		c.Next()
	}
}

// KeyFrom returns the verified credential, nil outside Auth.
func KeyFrom(c *gin.Context) *entity.APIKey {
	v, ok := c.Get(ContextKeyAPIKey)
	if !ok {
		return nil
	}
	key, _ := v.(*entity.APIKey)
	return key
}
