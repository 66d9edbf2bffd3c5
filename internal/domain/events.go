package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types published by the ledger
const (
	EventInventoryChangeApplied     = "wms.ledger.inventory-change-applied"
	EventInventoryChangeCompensated = "wms.ledger.inventory-change-compensated"
	EventReservationsReconciled     = "wms.ledger.reservations-reconciled"
)

// Event is a domain event raised by the engine.
type Event interface {
	EventType() string
	// AggregateID is the document the event belongs to.
	AggregateID() string
	OccurredAt() time.Time
}

func documentAggregateID(documentType, documentNo string) string {
	return documentType + "/" + documentNo
}

// MovementRecorded summarises one movement for an event payload.
type MovementRecorded struct {
	MovementID string
	MaterialID string
	LocationID string
	BatchID    string
	Direction  Direction
	Category   Category
	BaseQty    decimal.Decimal
	UnitPrice  decimal.Decimal
}

// InventoryChangeApplied is raised after a document change committed.
type InventoryChangeApplied struct {
	Document  Document
	Movements []MovementRecorded
	At        time.Time
}

func (e *InventoryChangeApplied) EventType() string     { return EventInventoryChangeApplied }
func (e *InventoryChangeApplied) OccurredAt() time.Time { return e.At }
func (e *InventoryChangeApplied) AggregateID() string {
	return documentAggregateID(e.Document.DocumentType, e.Document.DocumentNo)
}

// InventoryChangeCompensated is raised after a failed change was rolled back.
type InventoryChangeCompensated struct {
	Document       Document
	Reason         string
	ActionsApplied int
	Complete       bool
	At             time.Time
}

func (e *InventoryChangeCompensated) EventType() string     { return EventInventoryChangeCompensated }
func (e *InventoryChangeCompensated) OccurredAt() time.Time { return e.At }
func (e *InventoryChangeCompensated) AggregateID() string {
	return documentAggregateID(e.Document.DocumentType, e.Document.DocumentNo)
}

// ReservationsReconciled is raised after a document's reservations changed.
type ReservationsReconciled struct {
	DocumentType string
	DocumentNo   string
	Created      int
	Updated      int
	Cancelled    int
	At           time.Time
}

func (e *ReservationsReconciled) EventType() string     { return EventReservationsReconciled }
func (e *ReservationsReconciled) OccurredAt() time.Time { return e.At }
func (e *ReservationsReconciled) AggregateID() string {
	return documentAggregateID(e.DocumentType, e.DocumentNo)
}
