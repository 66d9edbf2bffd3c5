package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"github.com/wms-platform/ledger-engine/pkg/cloudevents"
	"github.com/wms-platform/ledger-engine/pkg/logging"
	"github.com/wms-platform/ledger-engine/pkg/metrics"
	"github.com/wms-platform/ledger-engine/pkg/resilience"
	"github.com/wms-platform/ledger-engine/pkg/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedProducer wraps a publisher with metrics and tracing
type InstrumentedProducer struct {
	producer EventPublisher
	metrics  *metrics.Metrics
	logger   *logging.Logger
	tracer   trace.Tracer
}

// NewInstrumentedProducer creates a new instrumented producer
func NewInstrumentedProducer(producer EventPublisher, m *metrics.Metrics, logger *logging.Logger) *InstrumentedProducer {
	return &InstrumentedProducer{
		producer: producer,
		metrics:  m,
		logger:   logger,
		tracer:   otel.Tracer("kafka-producer"),
	}
}

// PublishEvent publishes inside a producer span and propagates the W3C trace
// context as ce-traceparent / ce-tracestate extensions.
func (p *InstrumentedProducer) PublishEvent(ctx context.Context, topic string, event *cloudevents.LedgerEvent) error {
	start := time.Now()

	attrs := append(tracing.MessagingSpanAttributes("kafka", topic, "publish"),
		attribute.String("messaging.kafka.event_type", event.Type),
		attribute.String("messaging.message_id", event.ID),
	)
	if event.CorrelationID != "" {
		attrs = append(attrs, attribute.String("ledger.correlation_id", event.CorrelationID))
	}
	ctx, span := p.tracer.Start(ctx, "kafka.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attrs...),
	)
	defer span.End()

	carrier := tracing.MapCarrier{}
	tracing.InjectTraceContext(ctx, carrier)
	if event.Extensions == nil {
		event.Extensions = make(map[string]interface{})
	}
	for key, value := range carrier {
		event.Extensions[key] = value
	}

	err := p.producer.PublishEvent(ctx, topic, event)
	duration := time.Since(start)

	if p.metrics != nil {
		p.metrics.RecordKafkaPublish(topic, event.Type, err == nil, duration)
	}
	if p.logger != nil {
		p.logger.KafkaPublish(ctx, topic, event.Type, err == nil, duration)
	}
	tracing.RecordOutcome(span, err)
	return err
}

// CircuitBreakerProducer guards a publisher with a circuit breaker
type CircuitBreakerProducer struct {
	producer       EventPublisher
	circuitBreaker *resilience.CircuitBreaker
}

// NewCircuitBreakerProducer creates a circuit breaker protected producer.
// Breaker transitions are reported to m when it is non-nil.
func NewCircuitBreakerProducer(producer EventPublisher, m *metrics.Metrics, logger *logging.Logger) *CircuitBreakerProducer {
	config := resilience.DefaultCircuitBreakerConfig("kafka-producer")
	config.MaxRequests = 5
	if m != nil {
		config.OnStateChange = func(name string, _, to gobreaker.State) {
			m.SetCircuitBreakerState(name, resilience.StateValue(to))
			if to == gobreaker.StateOpen {
				m.RecordCircuitBreakerTrip(name)
			}
		}
	}

	slogLogger := slog.Default()
	if logger != nil && logger.Logger != nil {
		slogLogger = logger.Logger
	}

	return &CircuitBreakerProducer{
		producer:       producer,
		circuitBreaker: resilience.NewCircuitBreaker(config, slogLogger),
	}
}

// PublishEvent publishes a CloudEvent with circuit breaker protection
func (p *CircuitBreakerProducer) PublishEvent(ctx context.Context, topic string, event *cloudevents.LedgerEvent) error {
	_, err := p.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return nil, p.producer.PublishEvent(ctx, topic, event)
	})
	return err
}

// State returns the breaker state, used by readiness checks.
func (p *CircuitBreakerProducer) State() gobreaker.State {
	return p.circuitBreaker.State()
}

// NewProductionProducer assembles producer, instrumentation and circuit breaker.
// The returned Producer must be closed by the caller.
func NewProductionProducer(config *Config, m *metrics.Metrics, logger *logging.Logger) (*CircuitBreakerProducer, *Producer) {
	base := NewProducer(config)
	return NewCircuitBreakerProducer(NewInstrumentedProducer(base, m, logger), m, logger), base
}
