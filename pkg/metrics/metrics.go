package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of a ledger-engine process.
type Metrics struct {
	serviceName string
	registry    *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Kafka metrics
	KafkaEventsPublished *prometheus.CounterVec
	KafkaPublishDuration *prometheus.HistogramVec

	// MongoDB metrics
	MongoDBOperations        *prometheus.CounterVec
	MongoDBOperationDuration *prometheus.HistogramVec

	// Temporal activity metrics
	ActivitiesCompleted *prometheus.CounterVec
	ActivityDuration    *prometheus.HistogramVec

	// Outbox metrics
	OutboxPending   prometheus.Gauge
	OutboxPublished *prometheus.CounterVec
	OutboxRetries   prometheus.Counter

	// Ledger metrics
	ChangesApplied       *prometheus.CounterVec
	ChangeDuration       *prometheus.HistogramVec
	MovementsRecorded    *prometheus.CounterVec
	Compensations        *prometheus.CounterVec
	FIFOShortfalls       *prometheus.CounterVec
	NegativeClamps       *prometheus.CounterVec
	ReservationsSynced   *prometheus.CounterVec
	CostResolutionErrors *prometheus.CounterVec

	// Idempotency metrics
	IdempotencyRequests *prometheus.CounterVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	ServiceName string
	Namespace   string
	Subsystem   string
}

// DefaultConfig returns default metrics configuration
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName: serviceName,
		Namespace:   "wms",
		Subsystem:   "ledger",
	}
}

type factory struct {
	namespace string
	subsystem string
	service   string
	registry  *prometheus.Registry
}

func (f factory) counter(name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: f.namespace,
		Subsystem: f.subsystem,
		Name:      name,
		Help:      help,
	}, append([]string{"service"}, labels...))
	f.registry.MustRegister(c)
	return c
}

func (f factory) histogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: f.namespace,
		Subsystem: f.subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, append([]string{"service"}, labels...))
	f.registry.MustRegister(h)
	return h
}

func (f factory) gauge(name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   f.namespace,
		Subsystem:   f.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: prometheus.Labels{"service": f.service},
	})
	f.registry.MustRegister(g)
	return g
}

// New creates a Metrics instance with its own registry.
func New(config *Config) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	infra := factory{namespace: config.Namespace, service: config.ServiceName, registry: registry}
	ledger := factory{namespace: config.Namespace, subsystem: config.Subsystem, service: config.ServiceName, registry: registry}
	latency := []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

	m := &Metrics{serviceName: config.ServiceName, registry: registry}

	m.HTTPRequestsTotal = infra.counter("http_requests_total", "Total number of HTTP requests", "method", "path", "status")
	m.HTTPRequestDuration = infra.histogram("http_request_duration_seconds", "HTTP request duration in seconds", latency, "method", "path")
	m.HTTPRequestsInFlight = infra.gauge("http_requests_in_flight", "Number of HTTP requests currently being processed")

	m.KafkaEventsPublished = infra.counter("kafka_events_published_total", "Total number of Kafka events published", "topic", "event_type", "status")
	m.KafkaPublishDuration = infra.histogram("kafka_publish_duration_seconds", "Kafka publish duration in seconds", latency[:9], "topic")

	m.MongoDBOperations = infra.counter("mongodb_operations_total", "Total number of MongoDB operations", "collection", "operation", "status")
	m.MongoDBOperationDuration = infra.histogram("mongodb_operation_duration_seconds", "MongoDB operation duration in seconds", latency[:10], "collection", "operation")

	m.ActivitiesCompleted = infra.counter("temporal_activities_completed_total", "Total number of Temporal activities completed", "activity_type", "status")
	m.ActivityDuration = infra.histogram("temporal_activity_duration_seconds", "Temporal activity duration in seconds", []float64{.1, .5, 1, 5, 10, 30, 60}, "activity_type")

	m.OutboxPending = infra.gauge("outbox_pending_events", "Number of unpublished outbox events")
	m.OutboxPublished = infra.counter("outbox_events_published_total", "Total number of outbox events relayed", "event_type", "status")
	m.OutboxRetries = infra.counter("outbox_retries_total", "Total number of outbox publish retries").WithLabelValues(config.ServiceName)

	m.ChangesApplied = ledger.counter("changes_applied_total", "Inventory changes by document stage and outcome", "stage", "outcome")
	m.ChangeDuration = ledger.histogram("change_duration_seconds", "Inventory change duration in seconds", latency, "stage")
	m.MovementsRecorded = ledger.counter("movements_recorded_total", "Movement entries appended to the ledger", "direction", "category")
	m.Compensations = ledger.counter("compensations_total", "Rolled back units of work by outcome", "outcome")
	m.FIFOShortfalls = ledger.counter("fifo_shortfalls_total", "Deductions priced beyond available FIFO layers", "material")
	m.NegativeClamps = ledger.counter("negative_clamps_total", "Balance writes clamped to zero", "scope")
	m.ReservationsSynced = ledger.counter("reservations_synced_total", "Reservation records touched by reconciliation", "action")
	m.CostResolutionErrors = ledger.counter("cost_resolution_errors_total", "Cost lookups that fell back to zero", "costing_method")

	m.IdempotencyRequests = infra.counter("idempotency_requests_total", "Idempotency-Key lookups by outcome", "path", "outcome")

	m.CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: config.Namespace,
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
	}, []string{"service", "name"})
	registry.MustRegister(m.CircuitBreakerState)
	m.CircuitBreakerTrips = infra.counter("circuit_breaker_trips_total", "Total number of circuit breaker trips", "name")

	return m
}

// Handler returns an HTTP handler for metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path string, code int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(m.serviceName, method, path, strconv.Itoa(code)).Inc()
	m.HTTPRequestDuration.WithLabelValues(m.serviceName, method, path).Observe(duration.Seconds())
}

func (m *Metrics) IncrementHTTPRequestsInFlight() { m.HTTPRequestsInFlight.Inc() }
func (m *Metrics) DecrementHTTPRequestsInFlight() { m.HTTPRequestsInFlight.Dec() }

// RecordKafkaPublish records a Kafka publish event
func (m *Metrics) RecordKafkaPublish(topic, eventType string, success bool, duration time.Duration) {
	m.KafkaEventsPublished.WithLabelValues(m.serviceName, topic, eventType, status(success)).Inc()
	m.KafkaPublishDuration.WithLabelValues(m.serviceName, topic).Observe(duration.Seconds())
}

// RecordMongoDBOperation records a MongoDB operation
func (m *Metrics) RecordMongoDBOperation(collection, operation string, success bool, duration time.Duration) {
	m.MongoDBOperations.WithLabelValues(m.serviceName, collection, operation, status(success)).Inc()
	m.MongoDBOperationDuration.WithLabelValues(m.serviceName, collection, operation).Observe(duration.Seconds())
}

// RecordActivityCompleted records an activity completion
func (m *Metrics) RecordActivityCompleted(activityType string, success bool, duration time.Duration) {
	m.ActivitiesCompleted.WithLabelValues(m.serviceName, activityType, status(success)).Inc()
	m.ActivityDuration.WithLabelValues(m.serviceName, activityType).Observe(duration.Seconds())
}

func (m *Metrics) SetOutboxPending(count int64) {
	m.OutboxPending.Set(float64(count))
}

func (m *Metrics) RecordOutboxPublish(eventType string, success bool) {
	m.OutboxPublished.WithLabelValues(m.serviceName, eventType, status(success)).Inc()
}

func (m *Metrics) RecordOutboxRetry() {
	m.OutboxRetries.Inc()
}

// RecordChange records the outcome of one document's inventory change.
func (m *Metrics) RecordChange(stage, outcome string, duration time.Duration) {
	m.ChangesApplied.WithLabelValues(m.serviceName, stage, outcome).Inc()
	m.ChangeDuration.WithLabelValues(m.serviceName, stage).Observe(duration.Seconds())
}

func (m *Metrics) RecordMovement(direction, category string) {
	m.MovementsRecorded.WithLabelValues(m.serviceName, direction, category).Inc()
}

// RecordCompensation records a rollback; outcome is "compensated" or "failed".
func (m *Metrics) RecordCompensation(outcome string) {
	m.Compensations.WithLabelValues(m.serviceName, outcome).Inc()
}

func (m *Metrics) RecordFIFOShortfall(materialID string) {
	m.FIFOShortfalls.WithLabelValues(m.serviceName, materialID).Inc()
}

func (m *Metrics) RecordNegativeClamp(scope string) {
	m.NegativeClamps.WithLabelValues(m.serviceName, scope).Inc()
}

func (m *Metrics) RecordReservationSync(action string, count int) {
	if count <= 0 {
		return
	}
	m.ReservationsSynced.WithLabelValues(m.serviceName, action).Add(float64(count))
}

func (m *Metrics) RecordCostResolutionError(costingMethod string) {
	m.CostResolutionErrors.WithLabelValues(m.serviceName, costingMethod).Inc()
}

// RecordIdempotency counts an idempotency outcome: hit, miss, mismatch,
// concurrent or storage_error.
func (m *Metrics) RecordIdempotency(path, outcome string) {
	m.IdempotencyRequests.WithLabelValues(m.serviceName, path, outcome).Inc()
}

// SetCircuitBreakerState sets the circuit breaker state
func (m *Metrics) SetCircuitBreakerState(name string, state int) {
	m.CircuitBreakerState.WithLabelValues(m.serviceName, name).Set(float64(state))
}

// RecordCircuitBreakerTrip records a circuit breaker trip
func (m *Metrics) RecordCircuitBreakerTrip(name string) {
	m.CircuitBreakerTrips.WithLabelValues(m.serviceName, name).Inc()
}
