package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitialize_DisabledKeepsNoop(t *testing.T) {
	tp, err := Initialize(context.Background(), DefaultConfig("ledger-engine"))
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), sampler(0).Description())
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestRecordOutcome(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("test")

	_, passed := tracer.Start(context.Background(), "ledger.apply")
	RecordOutcome(passed, nil)
	passed.End()

	_, failed := tracer.Start(context.Background(), "ledger.apply")
	RecordOutcome(failed, errors.New("insufficient unrestricted stock"))
	failed.End()

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "insufficient unrestricted stock", spans[1].Status().Description)
	assert.Len(t, spans[1].Events(), 1, "error recorded as span event")
}

func TestMapCarrier_RoundTrip(t *testing.T) {
	carrier := MapCarrier{}
	carrier.Set("traceparent", "00-abc-def-01")
	assert.Equal(t, "00-abc-def-01", carrier.Get("traceparent"))
	assert.Equal(t, []string{"traceparent"}, carrier.Keys())
}
