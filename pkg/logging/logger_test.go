package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(level LogLevel) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(&Config{Level: level, ServiceName: "ledger-engine", Environment: "test", Version: "v0", Output: &buf}), &buf
}

func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var record map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &record))
	return record
}

func TestWithContext_AddsIdentifiers(t *testing.T) {
	logger, buf := newBufferLogger(LevelInfo)
	ctx := ContextWithCorrelationID(context.Background(), "corr-1")
	ctx = ContextWithUserID(ctx, "u-7")

	logger.WithContext(ctx).WithDocument("GD", "GD-1").Info("applied")

	record := lastRecord(t, buf)
	assert.Equal(t, "ledger-engine", record["service"])
	assert.Equal(t, "corr-1", record["correlationId"])
	assert.Equal(t, "u-7", record["userId"])
	assert.Equal(t, "GD", record["documentType"])
	assert.Equal(t, "GD-1", record["documentNo"])
	assert.NotContains(t, record, "requestId")
}

func TestWithContext_EmptyReturnsSameLogger(t *testing.T) {
	logger, _ := newBufferLogger(LevelInfo)
	assert.Same(t, logger, logger.WithContext(context.Background()))
}

func TestWithError(t *testing.T) {
	logger, buf := newBufferLogger(LevelInfo)
	assert.Same(t, logger, logger.WithError(nil))

	logger.WithError(errors.New("insufficient reserved stock")).Warn("deduction rejected")
	assert.Equal(t, "insufficient reserved stock", lastRecord(t, buf)["error"])
}

func TestActivityComplete_LevelFollowsOutcome(t *testing.T) {
	logger, buf := newBufferLogger(LevelInfo)

	logger.ActivityComplete(context.Background(), "ApplyInventoryChange", time.Second, true)
	assert.Empty(t, buf.String(), "success logs at debug")

	logger.ActivityComplete(context.Background(), "ApplyInventoryChange", time.Second, false)
	record := lastRecord(t, buf)
	assert.Equal(t, "ERROR", record["level"])
	assert.Equal(t, float64(1000), record["durationMs"])
}

func TestContextAccessors(t *testing.T) {
	assert.Empty(t, UserIDFromContext(context.Background()))
	assert.Empty(t, CorrelationIDFromContext(context.Background()))

	ctx := ContextWithUserID(ContextWithCorrelationID(context.Background(), "c"), "u")
	assert.Equal(t, "u", UserIDFromContext(ctx))
	assert.Equal(t, "c", CorrelationIDFromContext(ctx))
}
