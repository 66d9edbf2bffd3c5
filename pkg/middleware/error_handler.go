package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wms-platform/ledger-engine/pkg/errors"
)

// APIErrorResponse is the body of every non-2xx response. Ledger failures
// carry their error kind in Details["kind"].
type APIErrorResponse struct {
	Code          string            `json:"code"`
	Message       string            `json:"message"`
	Details       map[string]string `json:"details,omitempty"`
	RequestID     string            `json:"requestId,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
	Timestamp     string            `json:"timestamp"`
	Path          string            `json:"path"`
}

// ErrorMapper converts a handler error into an AppError.
type ErrorMapper func(error) *errors.AppError

// ErrorHandler renders the last handler error. A nil mapper uses
// errors.MapDomainError.
func ErrorHandler(logger *slog.Logger, mapper ErrorMapper) gin.HandlerFunc {
	if mapper == nil {
		mapper = errors.MapDomainError
	}
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		appErr := mapper(c.Errors.Last().Err)
		logError(logger, c, appErr)
		c.JSON(appErr.HTTPStatus, newErrorResponse(c, appErr))
	}
}

func newErrorResponse(c *gin.Context, appErr *errors.AppError) APIErrorResponse {
	return APIErrorResponse{
		Code:          appErr.Code,
		Message:       appErr.Message,
		Details:       appErr.Details,
		RequestID:     GetRequestID(c),
		CorrelationID: GetCorrelationID(c),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Path:          c.Request.URL.Path,
	}
}

func logError(logger *slog.Logger, c *gin.Context, appErr *errors.AppError) {
	level := slog.LevelError
	if appErr.HTTPStatus < http.StatusInternalServerError {
		level = slog.LevelWarn
	}

	attrs := []any{
		"code", appErr.Code,
		"message", appErr.Message,
		"status", appErr.HTTPStatus,
		"path", c.Request.URL.Path,
		"method", c.Request.Method,
		"requestId", GetRequestID(c),
		"correlationId", GetCorrelationID(c),
	}
	if kind, ok := appErr.Details["kind"]; ok {
		attrs = append(attrs, "kind", kind)
	}
	if appErr.Err != nil {
		attrs = append(attrs, "error", appErr.Err.Error())
	}

	logger.Log(c.Request.Context(), level, "API error", attrs...)
}

// AbortWithAppError aborts the request with an AppError
func AbortWithAppError(c *gin.Context, appErr *errors.AppError) {
	c.AbortWithStatusJSON(appErr.HTTPStatus, newErrorResponse(c, appErr))
}
