package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wms-platform/ledger-engine/pkg/kafka"
	"github.com/wms-platform/ledger-engine/pkg/logging"
	"github.com/wms-platform/ledger-engine/pkg/metrics"
)

// Publisher relays outbox events to Kafka
type Publisher struct {
	repo      Repository
	producer  kafka.EventPublisher
	logger    *logging.Logger
	metrics   *metrics.Metrics
	interval  time.Duration
	batchSize int
	retention time.Duration

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
	published int
	failed    int
}

// PublisherConfig holds configuration for the outbox publisher
type PublisherConfig struct {
	PollInterval time.Duration
	BatchSize    int

	// Retention is how long published events are kept. Zero disables cleanup.
	Retention time.Duration
}

// DefaultPublisherConfig returns default configuration
func DefaultPublisherConfig() *PublisherConfig {
	return &PublisherConfig{
		PollInterval: 1 * time.Second,
		BatchSize:    100,
		Retention:    7 * 24 * time.Hour,
	}
}

// NewPublisher creates a new outbox publisher. m may be nil.
func NewPublisher(repo Repository, producer kafka.EventPublisher, logger *logging.Logger, m *metrics.Metrics, config *PublisherConfig) *Publisher {
	if config == nil {
		config = DefaultPublisherConfig()
	}

	return &Publisher{
		repo:      repo,
		producer:  producer,
		logger:    logger.WithComponent("outbox-publisher"),
		metrics:   m,
		interval:  config.PollInterval,
		batchSize: config.BatchSize,
		retention: config.Retention,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Start launches the polling loop.
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("publisher already running")
	}
	p.running = true

	p.logger.Info("Starting outbox publisher", "interval", p.interval, "batchSize", p.batchSize)
	go p.run(ctx)
	return nil
}

// Stop stops the loop and waits for the in-flight batch.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return errors.New("publisher not running")
	}
	p.mu.Unlock()

	close(p.stopCh)
	<-p.stoppedCh

	p.mu.Lock()
	p.running = false
	published, failed := p.published, p.failed
	p.mu.Unlock()

	p.logger.Info("Outbox publisher stopped", "published", published, "failed", failed)
	return nil
}

func (p *Publisher) run(ctx context.Context) {
	defer close(p.stoppedCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	cleanup := time.NewTicker(time.Hour)
	defer cleanup.Stop()

	for {
		select {
		case <-ticker.C:
			p.ProcessOnce(ctx)
		case <-cleanup.C:
			p.cleanup(ctx)
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ProcessOnce relays one batch and returns how many events were published.
func (p *Publisher) ProcessOnce(ctx context.Context) int {
	events, err := p.repo.FindUnpublished(ctx, p.batchSize)
	if err != nil {
		p.logger.WithError(err).Error("Failed to find unpublished events")
		return 0
	}

	if p.metrics != nil {
		if pending, err := p.repo.CountUnpublished(ctx); err == nil {
			p.metrics.SetOutboxPending(pending)
		}
	}

	published := 0
	for _, event := range events {
		if err := p.publishEvent(ctx, event); err != nil {
			p.logger.WithError(err).Error("Failed to publish event",
				"eventId", event.ID,
				"eventType", event.EventType,
				"aggregateId", event.AggregateID,
			)
			p.record(event.EventType, false)

			lastAttempt := event.RetryCount+1 >= event.MaxRetries
			if err := p.repo.IncrementRetry(ctx, event.ID, err.Error()); err != nil {
				p.logger.WithError(err).Error("Failed to increment retry count", "eventId", event.ID)
			}
			if lastAttempt {
				p.logger.Error("Outbox entry exhausted its retries and will not be relayed",
					"eventId", event.ID,
					"aggregateId", event.AggregateID,
					"correlationId", event.CorrelationID,
				)
			}
			if p.metrics != nil {
				p.metrics.RecordOutboxRetry()
			}
			continue
		}

		p.record(event.EventType, true)
		published++
		if err := p.repo.MarkPublished(ctx, event.ID); err != nil {
			p.logger.WithError(err).Error("Failed to mark event as published", "eventId", event.ID)
		}
	}
	return published
}

func (p *Publisher) record(eventType string, success bool) {
	p.mu.Lock()
	if success {
		p.published++
	} else {
		p.failed++
	}
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.RecordOutboxPublish(eventType, success)
	}
}

func (p *Publisher) publishEvent(ctx context.Context, event *Entry) error {
	cloudEvent, err := event.Event()
	if err != nil {
		return fmt.Errorf("failed to decode outbox payload: %w", err)
	}
	if err := p.producer.PublishEvent(ctx, event.Topic, cloudEvent); err != nil {
		return fmt.Errorf("failed to publish to Kafka: %w", err)
	}

	p.logger.Debug("Published event from outbox",
		"eventId", event.ID,
		"eventType", event.EventType,
		"topic", event.Topic,
	)
	return nil
}

func (p *Publisher) cleanup(ctx context.Context) {
	if p.retention <= 0 {
		return
	}
	deleted, err := p.repo.DeletePublished(ctx, time.Now().UTC().Add(-p.retention))
	if err != nil {
		p.logger.WithError(err).Warn("Failed to delete published outbox events")
		return
	}
	if deleted > 0 {
		p.logger.Info("Deleted published outbox events", "count", deleted)
	}
}

// Stats returns publisher statistics
func (p *Publisher) Stats() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]int{
		"published": p.published,
		"failed":    p.failed,
	}
}
