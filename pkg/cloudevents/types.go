package cloudevents

import (
	"time"
)

// Ledger event types
const (
	InventoryChangeApplied     = "wms.ledger.inventory-change-applied"
	InventoryChangeCompensated = "wms.ledger.inventory-change-compensated"
	ReservationsReconciled     = "wms.ledger.reservations-reconciled"
)

// SourceLedger is the source attribute of every ledger event.
const SourceLedger = "/wms/ledger-engine"

// LedgerEvent is a structured-mode CloudEvents 1.0 envelope. Extensions
// travel as ce-* Kafka headers only.
type LedgerEvent struct {
	SpecVersion     string                 `json:"specversion"`
	Type            string                 `json:"type"`
	Source          string                 `json:"source"`
	Subject         string                 `json:"subject,omitempty"`
	ID              string                 `json:"id"`
	Time            time.Time              `json:"time"`
	DataContentType string                 `json:"datacontenttype"`
	Data            interface{}            `json:"data"`
	Extensions      map[string]interface{} `json:"-"`

	CorrelationID string `json:"ledgercorrelationid,omitempty"`
	// Document is "<documentType>/<documentNo>" of the originating document.
	Document string `json:"ledgerdocument,omitempty"`
}

// MovementSummary describes one appended movement entry. Quantities and
// prices are decimal strings.
type MovementSummary struct {
	MovementID string `json:"movementId"`
	MaterialID string `json:"materialId"`
	LocationID string `json:"locationId"`
	BatchID    string `json:"batchId,omitempty"`
	Direction  string `json:"direction"`
	Category   string `json:"category"`
	BaseQty    string `json:"baseQty"`
	UnitPrice  string `json:"unitPrice"`
}

// InventoryChangeAppliedData is the payload of InventoryChangeApplied.
type InventoryChangeAppliedData struct {
	DocumentType  string            `json:"documentType"`
	DocumentNo    string            `json:"documentNo"`
	TransactionNo string            `json:"transactionNo"`
	Stage         string            `json:"stage"`
	PlantID       string            `json:"plantId"`
	Movements     []MovementSummary `json:"movements"`
}

// InventoryChangeCompensatedData is the payload of InventoryChangeCompensated.
type InventoryChangeCompensatedData struct {
	DocumentType   string `json:"documentType"`
	DocumentNo     string `json:"documentNo"`
	Stage          string `json:"stage"`
	Reason         string `json:"reason"`
	ActionsApplied int    `json:"actionsApplied"`
	Complete       bool   `json:"complete"`
}

// ReservationsReconciledData is the payload of ReservationsReconciled.
type ReservationsReconciledData struct {
	DocumentType string `json:"documentType"`
	DocumentNo   string `json:"documentNo"`
	Created      int    `json:"created"`
	Updated      int    `json:"updated"`
	Cancelled    int    `json:"cancelled"`
}
