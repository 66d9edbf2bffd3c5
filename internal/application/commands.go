package application

import (
	"github.com/shopspring/decimal"

	"github.com/wms-platform/ledger-engine/internal/domain"
)

// ApplyChangeCommand applies one document's stock change.
type ApplyChangeCommand struct {
	Document domain.Document   `json:"document"`
	Lines    []domain.LineItem `json:"lines"`
}

// CostQuery asks for the unit cost of a material. A zero Quantity quotes the
// current cost without a deduction.
type CostQuery struct {
	MaterialID    string          `json:"materialId"`
	BatchID       string          `json:"batchId,omitempty"`
	PlantID       string          `json:"plantId"`
	Quantity      decimal.Decimal `json:"quantity"`
	PriorConsumed decimal.Decimal `json:"priorConsumed"`
}

// ReconcileCommand sets a document's reservations to match its lines.
type ReconcileCommand struct {
	DocumentType string            `json:"documentType"`
	DocumentNo   string            `json:"documentNo"`
	PlantID      string            `json:"plantId"`
	Lines        []domain.LineItem `json:"lines"`
}

// Delivery is a delivered base quantity against one reservation key.
type Delivery struct {
	LineNo     string          `json:"lineNo"`
	MaterialID string          `json:"materialId"`
	LocationID string          `json:"locationId"`
	BatchID    string          `json:"batchId,omitempty"`
	SerialNo   string          `json:"serialNo,omitempty"`
	Quantity   decimal.Decimal `json:"quantity"`
}

// FulfillCommand records deliveries against a document's reservations.
type FulfillCommand struct {
	DocumentType string     `json:"documentType"`
	DocumentNo   string     `json:"documentNo"`
	Deliveries   []Delivery `json:"deliveries"`
}
