package mongodb

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wms-platform/ledger-engine/api"
	"github.com/wms-platform/ledger-engine/internal/domain"
	"github.com/wms-platform/ledger-engine/pkg/cloudevents"
	"github.com/wms-platform/ledger-engine/pkg/contracts/asyncapi"
	"github.com/wms-platform/ledger-engine/pkg/kafka"
	"github.com/wms-platform/ledger-engine/pkg/logging"
	"github.com/wms-platform/ledger-engine/pkg/outbox"
)

type recordingOutbox struct {
	outbox.Repository
	saved []*outbox.Entry
	err   error
}

func (r *recordingOutbox) Save(_ context.Context, event *outbox.Entry) error {
	if r.err != nil {
		return r.err
	}
	r.saved = append(r.saved, event)
	return nil
}

func newPublisher(t *testing.T, repo outbox.Repository) *OutboxEventPublisher {
	t.Helper()
	validator, err := asyncapi.NewEventValidatorFromBytes(api.AsyncAPI)
	require.NoError(t, err)
	return NewOutboxEventPublisher(repo, cloudevents.NewEventFactory(cloudevents.SourceLedger), validator)
}

func appliedEvent(stage domain.DocumentStage) *domain.InventoryChangeApplied {
	return &domain.InventoryChangeApplied{
		Document: domain.Document{DocumentType: "GD", DocumentNo: "GD-1", PlantID: "P1", Stage: stage},
		Movements: []domain.MovementRecorded{{
			MovementID: "m1", MaterialID: "M-1", LocationID: "L1",
			Direction: domain.DirectionOut, Category: domain.CategoryUnrestricted,
			BaseQty: decimal.RequireFromString("8"), UnitPrice: decimal.RequireFromString("2.375"),
		}},
		At: time.Now(),
	}
}

func TestOutboxEventPublisher_SavesCloudEvent(t *testing.T) {
	repo := &recordingOutbox{}
	publisher := newPublisher(t, repo)
	ctx := logging.ContextWithCorrelationID(context.Background(), "corr-1")

	require.NoError(t, publisher.Publish(ctx, appliedEvent(domain.StageCompleted)))
	require.Len(t, repo.saved, 1)

	saved := repo.saved[0]
	assert.Equal(t, "GD/GD-1", saved.AggregateID)
	assert.Equal(t, AggregateTypeDocument, saved.AggregateType)
	assert.Equal(t, kafka.Topics.LedgerEvents, saved.Topic)
	assert.Equal(t, cloudevents.InventoryChangeApplied, saved.EventType)

	var ce map[string]interface{}
	require.NoError(t, json.Unmarshal(saved.Payload, &ce))
	assert.Equal(t, "corr-1", ce["ledgercorrelationid"])
	data := ce["data"].(map[string]interface{})
	assert.Equal(t, "GD-1", data["transactionNo"])
	movements := data["movements"].([]interface{})
	assert.Equal(t, "2.375", movements[0].(map[string]interface{})["unitPrice"])
}

func TestOutboxEventPublisher_Rejections(t *testing.T) {
	t.Run("schema violation", func(t *testing.T) {
		repo := &recordingOutbox{}
		err := newPublisher(t, repo).Publish(context.Background(), appliedEvent("SHIPPED"))
		assert.Error(t, err)
		assert.Empty(t, repo.saved)
	})

	t.Run("outbox failure", func(t *testing.T) {
		repo := &recordingOutbox{err: errors.New("write conflict")}
		err := newPublisher(t, repo).Publish(context.Background(), &domain.ReservationsReconciled{DocumentType: "GD", DocumentNo: "GD-1", Created: 1})
		assert.ErrorContains(t, err, "write conflict")
	})
}
