package idempotency

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wms-platform/ledger-engine/pkg/errors"
	"github.com/wms-platform/ledger-engine/pkg/logging"
	"github.com/wms-platform/ledger-engine/pkg/metrics"
	"github.com/wms-platform/ledger-engine/pkg/middleware"
)

const (
	// HeaderIdempotencyKey is the request header carrying the key.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderReplayed marks a response served from the store.
	HeaderReplayed = "Idempotent-Replayed"

	ContextKeyRecordID = "idempotencyRecordId"

	DefaultMaxKeyLength    = 255
	DefaultLockTimeout     = 5 * time.Minute
	DefaultRetentionPeriod = 24 * time.Hour
	DefaultMaxResponseSize = 1 << 20
)

// Config configures Middleware.
type Config struct {
	// Scope separates keys of different services sharing one collection.
	Scope string
	Store Store

	RequireKey   bool
	OnlyMutating bool

	// UserIDExtractor scopes keys per caller when set.
	UserIDExtractor func(*gin.Context) string

	MaxKeyLength    int
	LockTimeout     time.Duration
	RetentionPeriod time.Duration
	MaxResponseSize int

	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

// DefaultConfig returns a Config with optional keys on mutating methods.
func DefaultConfig(scope string, store Store, logger *logging.Logger) *Config {
	return &Config{
		Scope:           scope,
		Store:           store,
		OnlyMutating:    true,
		UserIDExtractor: func(c *gin.Context) string { return c.GetHeader(middleware.HeaderUserID) },
		MaxKeyLength:    DefaultMaxKeyLength,
		LockTimeout:     DefaultLockTimeout,
		RetentionPeriod: DefaultRetentionPeriod,
		MaxResponseSize: DefaultMaxResponseSize,
		Logger:          logger,
	}
}

type captureWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Middleware replays the stored response of a completed request carrying the
// same Idempotency-Key. A request that ends in a handler error or a 5xx
// response releases its key so the caller can retry.
func Middleware(config *Config) gin.HandlerFunc {
	logger := config.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.WithComponent("idempotency")

	return func(c *gin.Context) {
		if config.OnlyMutating && !isMutating(c.Request.Method) {
			c.Next()
			return
		}

		key := NormalizeKey(c.GetHeader(HeaderIdempotencyKey))
		if key == "" {
			if config.RequireKey {
				middleware.AbortWithAppError(c, errors.ErrBadRequest("Idempotency-Key header is required for this operation").
					WithDetail("header", HeaderIdempotencyKey))
				return
			}
			c.Next()
			return
		}
		if err := ValidateKey(key, config.MaxKeyLength); err != nil {
			middleware.AbortWithAppError(c, errors.ErrBadRequest(fmt.Sprintf("Invalid idempotency key: %v", err)).
				WithDetail("header", HeaderIdempotencyKey))
			return
		}

		var body []byte
		if c.Request.Body != nil {
			body, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}

		h := &handler{config: config, logger: logger.WithContext(c.Request.Context()).WithFields(map[string]any{
			"key":  key,
			"path": c.Request.URL.Path,
		})}
		h.serve(c, key, Fingerprint(c.Request.Method, c.Request.URL.Path, body))
	}
}

type handler struct {
	config *Config
	logger *logging.Logger
}

func (h *handler) record(c *gin.Context, outcome string) {
	if h.config.Metrics != nil {
		h.config.Metrics.RecordIdempotency(c.FullPath(), outcome)
	}
}

func (h *handler) serve(c *gin.Context, key, fingerprint string) {
	ctx := c.Request.Context()
	now := time.Now().UTC()

	rec := &Record{
		Key:           key,
		Scope:         h.config.Scope,
		RequestPath:   c.Request.URL.Path,
		RequestMethod: c.Request.Method,
		Fingerprint:   fingerprint,
		CreatedAt:     now,
		ExpiresAt:     now.Add(h.config.RetentionPeriod),
	}
	if h.config.UserIDExtractor != nil {
		rec.UserID = h.config.UserIDExtractor(c)
		if rec.UserID != "" {
			rec.Scope = h.config.Scope + "/" + rec.UserID
		}
	}

	stored, inserted, err := h.config.Store.Acquire(ctx, rec)
	if err != nil {
		h.logger.WithError(err).Error("Failed to acquire idempotency key")
		h.record(c, "storage_error")
		middleware.AbortWithAppError(c, errors.ErrServiceUnavailable("idempotency store"))
		return
	}

	if stored.Fingerprint != fingerprint {
		h.logger.Warn("Idempotency key reused with different request")
		h.record(c, "mismatch")
		middleware.AbortWithAppError(c, errors.ErrUnprocessable("Request differs from the original request with this idempotency key"))
		return
	}

	if stored.IsCompleted() {
		h.logger.Info("Replaying stored response", "statusCode", stored.ResponseCode)
		h.record(c, "hit")
		for k, v := range stored.ResponseHeaders {
			c.Header(k, v)
		}
		c.Header(HeaderReplayed, "true")
		c.Data(stored.ResponseCode, "application/json; charset=utf-8", stored.ResponseBody)
		c.Abort()
		return
	}

	if !inserted {
		taken, err := h.config.Store.Relock(ctx, stored.ID, now.Add(-h.config.LockTimeout))
		if err != nil {
			h.logger.WithError(err).Error("Failed to take over stale idempotency lock")
			h.record(c, "storage_error")
			middleware.AbortWithAppError(c, errors.ErrServiceUnavailable("idempotency store"))
			return
		}
		if !taken {
			h.record(c, "concurrent")
			middleware.AbortWithAppError(c, errors.ErrConflict("A request with this idempotency key is currently being processed"))
			return
		}
		h.logger.Info("Took over stale idempotency lock")
	}

	h.record(c, "miss")
	c.Set(ContextKeyRecordID, stored.ID)

	writer := &captureWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
	c.Writer = writer
	c.Next()

	// The request context may be cancelled once the client goes away; the
	// key still has to be settled.
	settleCtx := context.WithoutCancel(ctx)
	status := writer.Status()
	if len(c.Errors) > 0 || status >= http.StatusInternalServerError || !writer.Written() {
		if err := h.config.Store.Release(settleCtx, stored.ID); err != nil {
			h.logger.WithError(err).Error("Failed to release idempotency key")
			h.record(c, "storage_error")
		}
		return
	}

	responseBody := writer.body.Bytes()
	if len(responseBody) > h.config.MaxResponseSize {
		h.logger.Warn("Response too large to store", "size", len(responseBody))
		responseBody = []byte(fmt.Sprintf(`{"code":"RESPONSE_NOT_STORED","size":%d}`, len(responseBody)))
	}
	if err := h.config.Store.Complete(settleCtx, stored.ID, status, responseBody, responseHeaders(c)); err != nil {
		h.logger.WithError(err).Error("Failed to store idempotent response")
		h.record(c, "storage_error")
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func responseHeaders(c *gin.Context) map[string]string {
	headers := make(map[string]string)
	for k, v := range c.Writer.Header() {
		switch k {
		case "Content-Length",
			http.CanonicalHeaderKey(middleware.HeaderRequestID),
			http.CanonicalHeaderKey(middleware.HeaderCorrelationID):
			continue
		}
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	return headers
}
