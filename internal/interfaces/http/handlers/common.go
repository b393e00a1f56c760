package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/strandlabs/strand/internal/domain/entity"
	"github.com/strandlabs/strand/internal/interfaces/http/middleware"
	apperrors "github.com/strandlabs/strand/pkg/errors"
)

// respondError maps domain errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, entity.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, entity.ErrInvalidTransition),
		errors.Is(err, entity.ErrRunTerminal),
		errors.Is(err, entity.ErrActionTerminal),
		errors.Is(err, entity.ErrDuplicateToolCallID):
		status = http.StatusConflict
	case errors.Is(err, entity.ErrKeyInvalid), errors.Is(err, entity.ErrKeyRevoked):
		status = http.StatusUnauthorized
	default:
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			status = appErr.HTTPStatus()
		}
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func keyFrom(c *gin.Context) *entity.APIKey {
	return middleware.KeyFrom(c)
}
