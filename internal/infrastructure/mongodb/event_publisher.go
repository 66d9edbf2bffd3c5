package mongodb

import (
	"context"
	"fmt"

	"github.com/wms-platform/ledger-engine/internal/domain"
	"github.com/wms-platform/ledger-engine/pkg/cloudevents"
	"github.com/wms-platform/ledger-engine/pkg/kafka"
	"github.com/wms-platform/ledger-engine/pkg/logging"
	"github.com/wms-platform/ledger-engine/pkg/outbox"
)

// AggregateTypeDocument is the outbox aggregate type of every ledger event.
const AggregateTypeDocument = "Document"

// EventValidator checks a payload against its published schema.
type EventValidator interface {
	Validate(eventType string, data interface{}) error
}

// OutboxEventPublisher turns domain events into CloudEvents and stores them
// in the outbox. Called inside a transaction, the outbox row commits with
// the ledger writes.
type OutboxEventPublisher struct {
	outbox    outbox.Repository
	factory   *cloudevents.EventFactory
	validator EventValidator
	topic     string
}

// NewOutboxEventPublisher creates a publisher. validator may be nil.
func NewOutboxEventPublisher(repo outbox.Repository, factory *cloudevents.EventFactory, validator EventValidator) *OutboxEventPublisher {
	return &OutboxEventPublisher{
		outbox:    repo,
		factory:   factory,
		validator: validator,
		topic:     kafka.Topics.LedgerEvents,
	}
}

func (p *OutboxEventPublisher) Publish(ctx context.Context, event domain.Event) error {
	ce, err := p.toCloudEvent(ctx, event)
	if err != nil {
		return err
	}
	if p.validator != nil {
		if err := p.validator.Validate(ce.Type, ce.Data); err != nil {
			return err
		}
	}

	outboxEvent, err := outbox.NewEntry(event.AggregateID(), AggregateTypeDocument, p.topic, ce)
	if err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}
	if err := p.outbox.Save(ctx, outboxEvent); err != nil {
		return fmt.Errorf("failed to save %s to outbox: %w", ce.Type, err)
	}
	return nil
}

func (p *OutboxEventPublisher) toCloudEvent(ctx context.Context, event domain.Event) (*cloudevents.LedgerEvent, error) {
	correlationID := logging.CorrelationIDFromContext(ctx)

	var ce *cloudevents.LedgerEvent
	switch e := event.(type) {
	case *domain.InventoryChangeApplied:
		movements := make([]cloudevents.MovementSummary, 0, len(e.Movements))
		for _, m := range e.Movements {
			movements = append(movements, cloudevents.MovementSummary{
				MovementID: m.MovementID,
				MaterialID: m.MaterialID,
				LocationID: m.LocationID,
				BatchID:    m.BatchID,
				Direction:  string(m.Direction),
				Category:   string(m.Category),
				BaseQty:    m.BaseQty.String(),
				UnitPrice:  m.UnitPrice.String(),
			})
		}
		ce = p.factory.InventoryChangeApplied(cloudevents.InventoryChangeAppliedData{
			DocumentType:  e.Document.DocumentType,
			DocumentNo:    e.Document.DocumentNo,
			TransactionNo: e.Document.DocumentNo,
			Stage:         string(e.Document.Stage),
			PlantID:       e.Document.PlantID,
			Movements:     movements,
		}, correlationID)
	case *domain.InventoryChangeCompensated:
		ce = p.factory.InventoryChangeCompensated(cloudevents.InventoryChangeCompensatedData{
			DocumentType:   e.Document.DocumentType,
			DocumentNo:     e.Document.DocumentNo,
			Stage:          string(e.Document.Stage),
			Reason:         e.Reason,
			ActionsApplied: e.ActionsApplied,
			Complete:       e.Complete,
		}, correlationID)
	case *domain.ReservationsReconciled:
		ce = p.factory.ReservationsReconciled(cloudevents.ReservationsReconciledData{
			DocumentType: e.DocumentType,
			DocumentNo:   e.DocumentNo,
			Created:      e.Created,
			Updated:      e.Updated,
			Cancelled:    e.Cancelled,
		}, correlationID)
	default:
		return nil, fmt.Errorf("unsupported event type %T", event)
	}
	return ce, nil
}
