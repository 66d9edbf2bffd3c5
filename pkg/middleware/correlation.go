package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/wms-platform/ledger-engine/pkg/errors"
	"github.com/wms-platform/ledger-engine/pkg/logging"
)

// Gin context keys.
const (
	ContextKeyRequestID     = "requestId"
	ContextKeyCorrelationID = "correlationId"
	ContextKeyTraceID       = "traceId"
	ContextKeyUserID        = "userId"
)

const (
	HeaderRequestID     = "X-Request-ID"
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderUserID        = "X-User-ID"
)

// propagated headers are copied into both the gin context and the request
// context, where loggers and the outbox read them.
var propagated = []struct {
	header   string
	key      string
	generate bool
	echo     bool
	attach   func(context.Context, string) context.Context
}{
	{HeaderRequestID, ContextKeyRequestID, true, true, logging.ContextWithRequestID},
	{HeaderCorrelationID, ContextKeyCorrelationID, true, true, logging.ContextWithCorrelationID},
	{HeaderUserID, ContextKeyUserID, false, false, logging.ContextWithUserID},
}

// RequestContext propagates the request id, correlation id and acting user.
// Missing ids are generated; a missing user stays empty.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		for _, p := range propagated {
			value := c.GetHeader(p.header)
			if value == "" && p.generate {
				value = uuid.NewString()
			}
			if value == "" {
				continue
			}
			c.Set(p.key, value)
			if p.echo {
				c.Header(p.header, value)
			}
			ctx = p.attach(ctx, value)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// AccessLog writes one line per request; 4xx log at warn and 5xx at error.
// Probe and scrape paths are skipped.
func AccessLog(logger *slog.Logger, skipPaths ...string) gin.HandlerFunc {
	if len(skipPaths) == 0 {
		skipPaths = []string{"/health", "/ready", "/metrics"}
	}
	skip := make(map[string]struct{}, len(skipPaths))
	for _, path := range skipPaths {
		skip[path] = struct{}{}
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if _, ok := skip[path]; ok {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		status := c.Writer.Status()

		attrs := []any{
			"status", status,
			"method", c.Request.Method,
			"route", c.FullPath(),
			"path", path,
			"latencyMs", time.Since(start).Milliseconds(),
			"clientIP", c.ClientIP(),
			"requestId", GetRequestID(c),
			"correlationId", GetCorrelationID(c),
		}
		for _, key := range []string{ContextKeyUserID, ContextKeyTraceID} {
			if v := c.GetString(key); v != "" {
				attrs = append(attrs, key, v)
			}
		}
		if q := c.Request.URL.RawQuery; q != "" {
			attrs = append(attrs, "query", q)
		}

		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "HTTP request", attrs...)
	}
}

// Recovery turns a handler panic into a 500 error body.
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic recovered",
					"panic", r,
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"requestId", GetRequestID(c),
					"correlationId", GetCorrelationID(c),
				)
				AbortWithAppError(c, errors.ErrInternal())
			}
		}()
		c.Next()
	}
}

func GetRequestID(c *gin.Context) string {
	return c.GetString(ContextKeyRequestID)
}

func GetCorrelationID(c *gin.Context) string {
	return c.GetString(ContextKeyCorrelationID)
}
