package domain

import (
	"github.com/shopspring/decimal"
)

// DocumentStage is the lifecycle stage of the originating document at the
// time of the change.
type DocumentStage string

const (
	// StageReserved means the document holds a reservation on its stock.
	StageReserved DocumentStage = "RESERVED"
	// StageCompleted means the document is completed without a reservation.
	StageCompleted DocumentStage = "COMPLETED"
)

func (s DocumentStage) IsValid() bool {
	return s == StageReserved || s == StageCompleted
}

// DocumentAction selects what a change does to stock.
type DocumentAction string

const (
	// ActionDeduct consumes stock and records OUT movements.
	ActionDeduct DocumentAction = "DEDUCT"
	// ActionReserve moves stock from Unrestricted to Reserved for the document.
	ActionReserve DocumentAction = "RESERVE"
)

func (a DocumentAction) IsValid() bool {
	return a == ActionDeduct || a == ActionReserve
}

// Direction of a movement.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// Category is the stock category a movement touches.
type Category string

const (
	CategoryReserved     Category = "RESERVED"
	CategoryUnrestricted Category = "UNRESTRICTED"
)

// Allocation is the quantity of one line drawn from one location, batch and
// serial, in the line's order UOM.
type Allocation struct {
	LocationID string          `json:"locationId"`
	BatchID    string          `json:"batchId,omitempty"`
	SerialNo   string          `json:"serialNo,omitempty"`
	Quantity   decimal.Decimal `json:"quantity"`
}

// LineItem is one document line with its allocations. PreviousAllocations is
// the snapshot from before an edit; nil means no snapshot was supplied. It is
// read only when the Document is marked IsEdit.
type LineItem struct {
	LineNo              string       `json:"lineNo"`
	MaterialID          string       `json:"materialId"`
	UOM                 string       `json:"uom"`
	Allocations         []Allocation `json:"allocations"`
	PreviousAllocations []Allocation `json:"previousAllocations,omitempty"`
}

// HasSnapshot reports whether the caller supplied a pre-edit snapshot.
func (l LineItem) HasSnapshot() bool {
	return l.PreviousAllocations != nil
}

// Document identifies the originating document and the change context.
type Document struct {
	DocumentType string         `json:"documentType"`
	DocumentNo   string         `json:"documentNo"`
	ReferenceNo  string         `json:"referenceNo,omitempty"`
	PlantID      string         `json:"plantId"`
	Stage        DocumentStage  `json:"stage"`
	Action       DocumentAction `json:"action"`
	IsEdit       bool           `json:"isEdit"`
	UserID       string         `json:"userId,omitempty"`
}

// Validate checks the fields every change needs.
func (d Document) Validate() error {
	switch {
	case d.DocumentType == "":
		return NewLedgerError(KindInvalidInput, "documentType is required")
	case d.DocumentNo == "":
		return NewLedgerError(KindInvalidInput, "documentNo is required")
	case d.PlantID == "":
		return NewLedgerError(KindInvalidInput, "plantId is required")
	case !d.Stage.IsValid():
		return NewLedgerError(KindInvalidInput, "invalid stage %q", d.Stage)
	case d.Action != "" && !d.Action.IsValid():
		return NewLedgerError(KindInvalidInput, "invalid action %q", d.Action)
	}
	return nil
}

// ValidateLine checks a line's structure independent of stock.
func ValidateLine(line LineItem) error {
	if line.MaterialID == "" {
		return NewLedgerError(KindInvalidInput, "materialId is required on line %s", line.LineNo)
	}
	for _, set := range [][]Allocation{line.Allocations, line.PreviousAllocations} {
		for _, a := range set {
			if a.LocationID == "" {
				return NewLedgerError(KindInvalidInput, "locationId is required on line %s", line.LineNo)
			}
			if a.Quantity.IsNegative() {
				return NewLedgerError(KindInvalidInput, "quantity must not be negative on line %s", line.LineNo)
			}
		}
	}
	return nil
}
