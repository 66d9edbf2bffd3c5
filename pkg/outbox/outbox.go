package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/wms-platform/ledger-engine/pkg/cloudevents"
)

// DefaultMaxRetries bounds relay attempts per entry.
const DefaultMaxRetries = 10

// Entry is one serialized event awaiting relay. It is written in the same
// transaction as the ledger change it describes.
type Entry struct {
	ID            string          `bson:"_id" json:"id"`
	AggregateID   string          `bson:"aggregateId" json:"aggregateId"`
	AggregateType string          `bson:"aggregateType" json:"aggregateType"`
	EventType     string          `bson:"eventType" json:"eventType"`
	Topic         string          `bson:"topic" json:"topic"`
	CorrelationID string          `bson:"correlationId,omitempty" json:"correlationId,omitempty"`
	Payload       json.RawMessage `bson:"payload" json:"payload"`
	CreatedAt     time.Time       `bson:"createdAt" json:"createdAt"`
	PublishedAt   *time.Time      `bson:"publishedAt,omitempty" json:"publishedAt,omitempty"`
	RetryCount    int             `bson:"retryCount" json:"retryCount"`
	LastError     string          `bson:"lastError,omitempty" json:"lastError,omitempty"`
	MaxRetries    int             `bson:"maxRetries" json:"maxRetries"`
}

// NewEntry serializes event for topic.
func NewEntry(aggregateID, aggregateType, topic string, event *cloudevents.LedgerEvent) (*Entry, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	return &Entry{
		ID:            uuid.NewString(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     event.Type,
		Topic:         topic,
		CorrelationID: event.CorrelationID,
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
		MaxRetries:    DefaultMaxRetries,
	}, nil
}

func (e *Entry) IsPublished() bool {
	return e.PublishedAt != nil
}

// Exhausted reports an unpublished entry with no relay attempts left.
func (e *Entry) Exhausted() bool {
	return !e.IsPublished() && e.RetryCount >= e.MaxRetries
}

func (e *Entry) ShouldRetry() bool {
	return !e.IsPublished() && !e.Exhausted()
}

// Event decodes the stored envelope.
func (e *Entry) Event() (*cloudevents.LedgerEvent, error) {
	var event cloudevents.LedgerEvent
	if err := json.Unmarshal(e.Payload, &event); err != nil {
		return nil, err
	}
	return &event, nil
}
