package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Movement is an append-only ledger entry. Only IsDeleted changes after
// creation.
type Movement struct {
	ID              string          `json:"id"`
	TransactionType string          `json:"transactionType"`
	TransactionNo   string          `json:"transactionNo"`
	ReferenceNo     string          `json:"referenceNo,omitempty"`
	Direction       Direction       `json:"direction"`
	Category        Category        `json:"category"`
	MaterialID      string          `json:"materialId"`
	Quantity        decimal.Decimal `json:"quantity"`
	UOM             string          `json:"uom"`
	BaseQty         decimal.Decimal `json:"baseQty"`
	BaseUOM         string          `json:"baseUom"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
	TotalPrice      decimal.Decimal `json:"totalPrice"`
	PlantID         string          `json:"plantId"`
	LocationID      string          `json:"locationId"`
	BatchID         string          `json:"batchId,omitempty"`
	IsDeleted       bool            `json:"isDeleted"`
	CreatedAt       time.Time       `json:"createdAt"`
	CreatedBy       string          `json:"createdBy,omitempty"`
}

// SerialMovement records one serial's share of a parent movement.
type SerialMovement struct {
	ID         string          `json:"id"`
	MovementID string          `json:"movementId"`
	SerialNo   string          `json:"serialNo"`
	BatchID    string          `json:"batchId,omitempty"`
	PlantID    string          `json:"plantId"`
	BaseQty    decimal.Decimal `json:"baseQty"`
	BaseUOM    string          `json:"baseUom"`
	IsDeleted  bool            `json:"isDeleted"`
	CreatedAt  time.Time       `json:"createdAt"`
	CreatedBy  string          `json:"createdBy,omitempty"`
}

// MovementQuery filters movements. At least one field must be set.
type MovementQuery struct {
	TransactionNo  string
	ReferenceNo    string
	IncludeDeleted bool
}
