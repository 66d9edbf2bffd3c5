package domain

import (
	"github.com/shopspring/decimal"
)

// CostingMethod is the valuation method configured on a material.
type CostingMethod string

const (
	// CostingFIFO prices consumption from the oldest cost layers first
	CostingFIFO CostingMethod = "FIFO"

	// CostingWeightedAverage prices consumption at the latest running average
	CostingWeightedAverage CostingMethod = "WEIGHTED_AVERAGE"

	// CostingFixed prices consumption at the material's standard cost
	CostingFixed CostingMethod = "FIXED_COST"
)

// IsValid checks if the costing method is known
func (c CostingMethod) IsValid() bool {
	switch c {
	case CostingFIFO, CostingWeightedAverage, CostingFixed:
		return true
	default:
		return false
	}
}

func (c CostingMethod) String() string {
	return string(c)
}

// UOMConversion states how many base units one alternate unit holds.
type UOMConversion struct {
	AltUOM  string          `json:"altUom"`
	BaseQty decimal.Decimal `json:"baseQty"`
}

// Material is the read-only item master the engine consults.
type Material struct {
	ID             string          `json:"id"`
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	CostingMethod  CostingMethod   `json:"costingMethod"`
	IsSerialized   bool            `json:"isSerialized"`
	IsBatchManaged bool            `json:"isBatchManaged"`
	BaseUOM        string          `json:"baseUom"`
	Conversions    []UOMConversion `json:"conversions,omitempty"`
	FixedUnitCost  decimal.Decimal `json:"fixedUnitCost"`
}

// Label identifies the material in user-facing messages.
func (m *Material) Label() string {
	if m.Code != "" {
		return m.Code
	}
	return m.ID
}

// ToBase converts qty expressed in uom to the material's base unit. The
// second return is false when uom differs from the base unit and no
// conversion exists; the quantity is then taken 1:1.
func (m *Material) ToBase(qty decimal.Decimal, uom string) (decimal.Decimal, bool) {
	if uom == "" || uom == m.BaseUOM {
		return RoundQty(qty), true
	}
	for _, c := range m.Conversions {
		if c.AltUOM == uom {
			return RoundQty(qty.Mul(c.BaseQty)), true
		}
	}
	return RoundQty(qty), false
}

// FromBase converts a base quantity back to uom. Unknown units are taken 1:1.
func (m *Material) FromBase(base decimal.Decimal, uom string) decimal.Decimal {
	if uom == "" || uom == m.BaseUOM {
		return RoundQty(base)
	}
	for _, c := range m.Conversions {
		if c.AltUOM == uom && c.BaseQty.IsPositive() {
			return base.DivRound(c.BaseQty, QtyPlaces)
		}
	}
	return RoundQty(base)
}
