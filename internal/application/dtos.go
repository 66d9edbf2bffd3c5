package application

import (
	"github.com/shopspring/decimal"

	"github.com/wms-platform/ledger-engine/internal/domain"
)

// LineStatus is the outcome of one line within a change.
type LineStatus string

const (
	LineApplied    LineStatus = "APPLIED"
	LineFailed     LineStatus = "FAILED"
	LineRolledBack LineStatus = "ROLLED_BACK"
	LineSkipped    LineStatus = "SKIPPED"
)

// LineResult reports what happened to one line.
type LineResult struct {
	LineNo           string          `json:"lineNo"`
	MaterialID       string          `json:"materialId"`
	Status           LineStatus      `json:"status"`
	Message          string          `json:"message,omitempty"`
	FromReserved     decimal.Decimal `json:"fromReserved"`
	FromUnrestricted decimal.Decimal `json:"fromUnrestricted"`
	Released         decimal.Decimal `json:"released"`
	Reserved         decimal.Decimal `json:"reserved"`
	UnitCost         decimal.Decimal `json:"unitCost"`
	MovementIDs      []string        `json:"movementIds,omitempty"`
}

// ChangeResult is the outcome of ApplyInventoryChange. A failed change is
// never partially applied.
type ChangeResult struct {
	Success      bool         `json:"success"`
	Message      string       `json:"message"`
	DocumentType string       `json:"documentType"`
	DocumentNo   string       `json:"documentNo"`
	Lines        []LineResult `json:"lines"`
}

// CostQuote is a resolved unit cost.
type CostQuote struct {
	MaterialID    string               `json:"materialId"`
	CostingMethod domain.CostingMethod `json:"costingMethod"`
	UnitCost      decimal.Decimal      `json:"unitCost"`
	Shortfall     decimal.Decimal      `json:"shortfall"`
	Draws         []domain.LayerDraw   `json:"draws,omitempty"`
	// Resolved is false when the cost fell back to zero.
	Resolved bool `json:"resolved"`
}

// ReconcileResult counts the reservation writes of a reconciliation.
type ReconcileResult struct {
	DocumentType string `json:"documentType"`
	DocumentNo   string `json:"documentNo"`
	Created      int    `json:"created"`
	Updated      int    `json:"updated"`
	Cancelled    int    `json:"cancelled"`
}

// FulfillResult counts the effect of recorded deliveries.
type FulfillResult struct {
	Updated   int      `json:"updated"`
	Fulfilled int      `json:"fulfilled"`
	Unmatched []string `json:"unmatched,omitempty"`
}

// MovementView is a movement with its serial children.
type MovementView struct {
	domain.Movement
	Serials []domain.SerialMovement `json:"serials,omitempty"`
}

// BulkItem is the outcome of one document in a bulk request.
type BulkItem struct {
	DocumentNo string        `json:"documentNo"`
	Result     *ChangeResult `json:"result"`
	Error      string        `json:"error,omitempty"`
	ErrorKind  string        `json:"errorKind,omitempty"`
}

// BulkResult is the outcome of ApplyBulk.
type BulkResult struct {
	Succeeded int        `json:"succeeded"`
	Failed    int        `json:"failed"`
	Items     []BulkItem `json:"items"`
}
