package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wms-platform/ledger-engine/pkg/cloudevents"
	"github.com/wms-platform/ledger-engine/pkg/logging"
)

type fakeRepository struct {
	mu      sync.Mutex
	events  map[string]*Entry
	order   []string
	findErr error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{events: make(map[string]*Entry)}
}

func (r *fakeRepository) Save(_ context.Context, event *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[event.ID] = event
	r.order = append(r.order, event.ID)
	return nil
}

func (r *fakeRepository) FindUnpublished(_ context.Context, limit int) ([]*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	var out []*Entry
	for _, id := range r.order {
		if e := r.events[id]; e.ShouldRetry() && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeRepository) CountUnpublished(ctx context.Context) (int64, error) {
	events, err := r.FindUnpublished(ctx, 1<<30)
	return int64(len(events)), err
}

func (r *fakeRepository) MarkPublished(_ context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.events[eventID].PublishedAt = &now
	return nil
}

func (r *fakeRepository) IncrementRetry(_ context.Context, eventID string, errorMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[eventID].RetryCount++
	r.events[eventID].LastError = errorMsg
	return nil
}

func (r *fakeRepository) DeletePublished(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type fakeProducer struct {
	mu        sync.Mutex
	published []*cloudevents.LedgerEvent
	fail      bool
}

func (p *fakeProducer) PublishEvent(_ context.Context, _ string, event *cloudevents.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, event)
	return nil
}

func saveEvent(t *testing.T, repo *fakeRepository, documentNo string) *Entry {
	t.Helper()
	factory := cloudevents.NewEventFactory(cloudevents.SourceLedger)
	ce := factory.InventoryChangeApplied(cloudevents.InventoryChangeAppliedData{
		DocumentType: "GD",
		DocumentNo:   documentNo,
	}, "")
	event, err := NewEntry(documentNo, "document", "wms.ledger.events", ce)
	require.NoError(t, err)
	require.NoError(t, repo.Save(context.Background(), event))
	return event
}

func TestPublisher_ProcessOnce_PublishesAndMarks(t *testing.T) {
	repo := newFakeRepository()
	producer := &fakeProducer{}
	first := saveEvent(t, repo, "GD-001")
	second := saveEvent(t, repo, "GD-002")

	p := NewPublisher(repo, producer, logging.NewNop(), nil, nil)

	assert.Equal(t, 2, p.ProcessOnce(context.Background()))
	require.Len(t, producer.published, 2)
	assert.Equal(t, cloudevents.InventoryChangeApplied, producer.published[0].Type)
	assert.True(t, first.IsPublished())
	assert.True(t, second.IsPublished())

	assert.Equal(t, 0, p.ProcessOnce(context.Background()))
	assert.Equal(t, map[string]int{"published": 2, "failed": 0}, p.Stats())
}

func TestPublisher_ProcessOnce_IncrementsRetryOnFailure(t *testing.T) {
	repo := newFakeRepository()
	producer := &fakeProducer{fail: true}
	event := saveEvent(t, repo, "GD-003")

	p := NewPublisher(repo, producer, logging.NewNop(), nil, nil)

	assert.Equal(t, 0, p.ProcessOnce(context.Background()))
	assert.Equal(t, 1, event.RetryCount)
	assert.Contains(t, event.LastError, "broker unavailable")
	assert.False(t, event.IsPublished())
}

func TestPublisher_ProcessOnce_StopsRetryingAtMax(t *testing.T) {
	repo := newFakeRepository()
	event := saveEvent(t, repo, "GD-004")
	event.RetryCount = event.MaxRetries

	producer := &fakeProducer{}
	p := NewPublisher(repo, producer, logging.NewNop(), nil, nil)

	assert.Equal(t, 0, p.ProcessOnce(context.Background()))
	assert.Empty(t, producer.published)
}

func TestPublisher_ProcessOnce_ExhaustsAfterLastAttempt(t *testing.T) {
	repo := newFakeRepository()
	event := saveEvent(t, repo, "GD-005")
	event.RetryCount = event.MaxRetries - 1

	p := NewPublisher(repo, &fakeProducer{fail: true}, logging.NewNop(), nil, nil)

	assert.Equal(t, 0, p.ProcessOnce(context.Background()))
	assert.True(t, event.Exhausted())
	assert.False(t, event.ShouldRetry())
}

func TestNewEntry_CarriesEnvelope(t *testing.T) {
	factory := cloudevents.NewEventFactory(cloudevents.SourceLedger)
	ce := factory.ReservationsReconciled(cloudevents.ReservationsReconciledData{
		DocumentType: "GD",
		DocumentNo:   "GD-9",
		Created:      2,
	}, "corr-9")

	entry, err := NewEntry(cloudevents.DocumentKey("GD", "GD-9"), "Document", "wms.ledger.events", ce)
	require.NoError(t, err)
	assert.Equal(t, "GD/GD-9", entry.AggregateID)
	assert.Equal(t, cloudevents.ReservationsReconciled, entry.EventType)
	assert.Equal(t, "corr-9", entry.CorrelationID)
	assert.True(t, entry.ShouldRetry())

	decoded, err := entry.Event()
	require.NoError(t, err)
	assert.Equal(t, ce.ID, decoded.ID)
	assert.Equal(t, "document/GD/GD-9", decoded.Subject)
	assert.Equal(t, "GD/GD-9", decoded.Document)
}

func TestPublisher_StartStop(t *testing.T) {
	repo := newFakeRepository()
	p := NewPublisher(repo, &fakeProducer{}, logging.NewNop(), nil, &PublisherConfig{PollInterval: 10 * time.Millisecond, BatchSize: 10})

	require.NoError(t, p.Start(context.Background()))
	assert.Error(t, p.Start(context.Background()))
	require.NoError(t, p.Stop())
	assert.Error(t, p.Stop())
}
