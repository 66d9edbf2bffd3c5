package domain

import "github.com/shopspring/decimal"

const (
	// QtyPlaces is the precision for every stored or compared quantity
	QtyPlaces = 3
	// PricePlaces is the precision for unit prices and costs
	PricePlaces = 4
)

// RoundQty rounds a quantity half away from zero.
func RoundQty(d decimal.Decimal) decimal.Decimal {
	return d.Round(QtyPlaces)
}

// RoundPrice rounds a price or cost half away from zero.
func RoundPrice(d decimal.Decimal) decimal.Decimal {
	return d.Round(PricePlaces)
}

// MinDecimal returns the smaller of a and b.
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// NonNegative clamps d at zero. The bool reports whether clamping happened.
func NonNegative(d decimal.Decimal) (decimal.Decimal, bool) {
	if d.IsNegative() {
		return decimal.Zero, true
	}
	return d, false
}
