package cloudevents

import (
	"time"

	"github.com/google/uuid"
)

const (
	specVersion     = "1.0"
	jsonContentType = "application/json"
)

// EventFactory stamps envelopes for one source.
type EventFactory struct {
	source string
	now    func() time.Time
}

func NewEventFactory(source string) *EventFactory {
	return &EventFactory{source: source, now: time.Now}
}

// DocumentKey joins a document type and number the way events and outbox
// entries identify their aggregate.
func DocumentKey(documentType, documentNo string) string {
	return documentType + "/" + documentNo
}

// ForDocument wraps data in an envelope for the given document. The subject
// doubles as the Kafka partition key.
func (f *EventFactory) ForDocument(eventType, documentType, documentNo string, data interface{}, correlationID string) *LedgerEvent {
	key := DocumentKey(documentType, documentNo)
	return &LedgerEvent{
		SpecVersion:     specVersion,
		Type:            eventType,
		Source:          f.source,
		Subject:         "document/" + key,
		ID:              uuid.NewString(),
		Time:            f.now().UTC(),
		DataContentType: jsonContentType,
		Data:            data,
		Extensions:      make(map[string]interface{}),
		CorrelationID:   correlationID,
		Document:        key,
	}
}

func (f *EventFactory) InventoryChangeApplied(data InventoryChangeAppliedData, correlationID string) *LedgerEvent {
	return f.ForDocument(InventoryChangeApplied, data.DocumentType, data.DocumentNo, data, correlationID)
}

func (f *EventFactory) InventoryChangeCompensated(data InventoryChangeCompensatedData, correlationID string) *LedgerEvent {
	return f.ForDocument(InventoryChangeCompensated, data.DocumentType, data.DocumentNo, data, correlationID)
}

func (f *EventFactory) ReservationsReconciled(data ReservationsReconciledData, correlationID string) *LedgerEvent {
	return f.ForDocument(ReservationsReconciled, data.DocumentType, data.DocumentNo, data, correlationID)
}
