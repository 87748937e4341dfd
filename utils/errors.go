package utils

import (
	"context"
	"errors"
	"net/http"

	"mail-archive-search/internal/ai"
	"mail-archive-search/internal/archive"
	"mail-archive-search/internal/attachment"
	"mail-archive-search/internal/store"

	"github.com/gin-gonic/gin"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	ErrorCode string      `json:"error_code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}

// RespondWithError sends a standardized error response
func RespondWithError(c *gin.Context, statusCode int, errorCode, message string, details interface{}) {
	c.JSON(statusCode, ErrorResponse{
		ErrorCode: errorCode,
		Message:   message,
		Details:   details,
	})
}

// RespondWithBadRequest sends a 400 Bad Request error
func RespondWithBadRequest(c *gin.Context, message string, details interface{}) {
	RespondWithError(c, http.StatusBadRequest, "bad_request", message, details)
}

// RespondWithUnauthorized sends a 401 Unauthorized error
func RespondWithUnauthorized(c *gin.Context, message string) {
	RespondWithError(c, http.StatusUnauthorized, "unauthorized", message, nil)
}

// RespondWithForbidden sends a 403 Forbidden error
func RespondWithForbidden(c *gin.Context, message string) {
	RespondWithError(c, http.StatusForbidden, "forbidden", message, nil)
}

// RespondWithNotFound sends a 404 Not Found error
func RespondWithNotFound(c *gin.Context, message string) {
	RespondWithError(c, http.StatusNotFound, "not_found", message, nil)
}

// RespondWithInternalError sends a 500 Internal Server Error
func RespondWithInternalError(c *gin.Context, message string, details interface{}) {
	RespondWithError(c, http.StatusInternalServerError, "internal_error", message, details)
}

// RespondWithErr maps pipeline errors onto HTTP responses.
func RespondWithErr(c *gin.Context, err error) {
	_ = c.Error(err)

	switch {
	case errors.Is(err, archive.ErrUnsupportedFormat):
		RespondWithError(c, http.StatusUnsupportedMediaType, "unsupported_format", err.Error(), nil)
	case errors.Is(err, archive.ErrOpenArchive), errors.Is(err, archive.ErrEmptyArchive):
		RespondWithError(c, http.StatusUnprocessableEntity, "invalid_archive", err.Error(), nil)
	case errors.Is(err, store.ErrNotFound):
		RespondWithNotFound(c, "Resource not found")
	case errors.Is(err, attachment.ErrInvalidName):
		RespondWithBadRequest(c, err.Error(), nil)
	case errors.Is(err, ai.ErrUnavailable):
		RespondWithError(c, http.StatusServiceUnavailable, "model_unavailable",
			"The language model service is unavailable", nil)
	case errors.Is(err, context.DeadlineExceeded):
		RespondWithError(c, http.StatusGatewayTimeout, "timeout", "The operation timed out", nil)
	default:
		RespondWithInternalError(c, "Internal server error", nil)
	}
}
