package middleware

import (
	stderrors "errors"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/wms-platform/ledger-engine/pkg/contracts/openapi"
	"github.com/wms-platform/ledger-engine/pkg/errors"
)

// ContractValidation rejects requests that do not match the OpenAPI
// document. Routes the document does not describe pass through.
func ContractValidation(v *openapi.Validator, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := v.ValidateRequest(c.Request)
		if err == nil {
			c.Next()
			return
		}

		var notFound *openapi.ErrRouteNotFound
		if stderrors.As(err, &notFound) {
			c.Next()
			return
		}

		operationID, _ := v.OperationID(c.Request)
		logger.Warn("Request violates API contract",
			"operationId", operationID,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
			"requestId", GetRequestID(c),
			"error", err.Error(),
		)
		AbortWithAppError(c, errors.ErrValidation(err.Error()))
	}
}
