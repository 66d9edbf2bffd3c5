package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wms-platform/ledger-engine/pkg/contracts/openapi"
	"github.com/wms-platform/ledger-engine/pkg/errors"
	"github.com/wms-platform/ledger-engine/pkg/metrics"
)

// Config holds middleware configuration
type Config struct {
	Logger         *slog.Logger
	ServiceName    string
	Metrics        *metrics.Metrics
	ErrorMapper    ErrorMapper
	Contract       *openapi.Validator
	EnableTracing  bool
	TrustedProxies []string
}

// DefaultConfig returns a default middleware configuration
func DefaultConfig(serviceName string, logger *slog.Logger) *Config {
	return &Config{
		Logger:        logger,
		ServiceName:   serviceName,
		EnableTracing: true,
	}
}

// Setup applies the standard middleware chain to a Gin router
func Setup(router *gin.Engine, config *Config) {
	InitValidator()

	if len(config.TrustedProxies) > 0 {
		_ = router.SetTrustedProxies(config.TrustedProxies)
	}

	router.Use(Recovery(config.Logger), RequestContext())
	if config.EnableTracing {
		router.Use(TracingMiddleware(DefaultTracingConfig(config.ServiceName)))
	}
	router.Use(AccessLog(config.Logger))
	if config.Metrics != nil {
		router.Use(MetricsMiddleware(config.Metrics))
	}
	router.Use(ContentType())
	router.Use(ErrorHandler(config.Logger, config.ErrorMapper))
	if config.Contract != nil {
		router.Use(ContractValidation(config.Contract, config.Logger))
	}

	router.NoRoute(NoRoute())
	router.NoMethod(NoMethod())
}

// ContentType requires a JSON body on POST and PUT
func ContentType() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodPost || c.Request.Method == http.MethodPut {
			contentType := c.GetHeader("Content-Type")
			if c.Request.ContentLength > 0 && !strings.HasPrefix(contentType, "application/json") {
				AbortWithAppError(c, errors.NewAppError("INVALID_CONTENT_TYPE", "Content-Type must be application/json", http.StatusUnsupportedMediaType))
				return
			}
		}
		c.Next()
	}
}

// HealthCheck creates a health check handler
func HealthCheck(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": serviceName,
		})
	}
}

// ReadinessCheck reports ready while checkFn succeeds
func ReadinessCheck(serviceName string, checkFn func(c *gin.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := checkFn(c); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not ready",
				"service": serviceName,
				"error":   err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "ready",
			"service": serviceName,
		})
	}
}

// NoRoute handles 404 errors with proper error format
func NoRoute() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusNotFound, APIErrorResponse{
			Code:      "ROUTE_NOT_FOUND",
			Message:   "The requested resource was not found",
			RequestID: GetRequestID(c),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Path:      c.Request.URL.Path,
		})
	}
}

// NoMethod handles 405 errors with proper error format
func NoMethod() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, APIErrorResponse{
			Code:      "METHOD_NOT_ALLOWED",
			Message:   "The request method is not supported for this resource",
			RequestID: GetRequestID(c),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Path:      c.Request.URL.Path,
		})
	}
}

// WrapHandler lets handlers return errors for ErrorHandler to render
func WrapHandler(handler func(*gin.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := handler(c); err != nil {
			_ = c.Error(err)
		}
	}
}
