package handlers

import (
	"errors"

	"github.com/agenthub/backend/internal/services"
	"github.com/agenthub/backend/pkg/response"
	"github.com/gin-gonic/gin"
)

// respondServiceError maps service sentinel errors onto the HTTP error
// taxonomy. Unrecognized errors fall through as 400: by the time a request
// reaches a service, remaining failures are caller-fixable validation.
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidToken):
		response.Error(c, response.NewInvalidToken())
	case errors.Is(err, services.ErrNotFound):
		response.Error(c, response.NewNotFound(err.Error()))
	case errors.Is(err, services.ErrForbidden):
		response.Error(c, response.NewForbidden("access denied"))
	case errors.Is(err, services.ErrConflict):
		response.Error(c, response.NewConflict(err.Error()))
	default:
		response.Error(c, response.NewValidation(err.Error()))
	}
}
