package domain

import (
	"github.com/shopspring/decimal"
)

// SplitInput describes one group's requirement against the stock it may
// draw from. All quantities are in base UOM.
type SplitInput struct {
	Label    string
	Required decimal.Decimal
	// DocReserved is what this document reserved for the group before the
	// change.
	DocReserved decimal.Decimal
	// Reserved and Unrestricted are the drawable quantities on the records.
	Reserved     decimal.Decimal
	Unrestricted decimal.Decimal
	// Releasable is the reserved stock the document may hand back. It is at
	// least Reserved and exceeds it when released serials are not drawn from.
	Releasable decimal.Decimal
}

// Split is how a deduction is sourced.
type Split struct {
	FromReserved     decimal.Decimal
	FromUnrestricted decimal.Decimal
	Released         decimal.Decimal
}

// Total is the quantity deducted.
func (s Split) Total() decimal.Decimal {
	return RoundQty(s.FromReserved.Add(s.FromUnrestricted))
}

// PlanDeduction chooses the category split for a deduction.
//
// In the reserved stage the document's own reservation is consumed first and
// whatever it reserved beyond the requirement is released. In the completed
// stage Unrestricted is consumed first and Reserved only covers a shortfall.
func PlanDeduction(stage DocumentStage, in SplitInput) (Split, error) {
	q := RoundQty(in.Required)
	releasable := in.Releasable
	if releasable.LessThan(in.Reserved) {
		releasable = in.Reserved
	}

	if stage == StageCompleted {
		if !in.Unrestricted.LessThan(q) {
			return Split{FromUnrestricted: q}, nil
		}
		fromU, _ := NonNegative(in.Unrestricted)
		need := RoundQty(q.Sub(fromU))
		if need.GreaterThan(in.Reserved) {
			return Split{}, insufficientReserved(in.Label, in.Reserved, need)
		}
		return Split{FromReserved: need, FromUnrestricted: fromU}, nil
	}

	docReserved, _ := NonNegative(in.DocReserved)
	reservedCap := MinDecimal(docReserved, in.Reserved)

	var s Split
	if !reservedCap.LessThan(q) {
		s.FromReserved = q
	} else {
		s.FromReserved, _ = NonNegative(reservedCap)
		need := RoundQty(q.Sub(s.FromReserved))
		if need.GreaterThan(in.Unrestricted) {
			return Split{}, insufficientUnrestricted(in.Label, in.Unrestricted, need)
		}
		s.FromUnrestricted = need
	}

	s.Released, _ = NonNegative(RoundQty(MinDecimal(docReserved, releasable).Sub(s.FromReserved)))
	return s, nil
}

// ReservationPlan is the stock movement a reserve action needs.
type ReservationPlan struct {
	Reserve decimal.Decimal
	Release decimal.Decimal
}

// PlanReservation computes the delta between what the document requires now
// and what it already reserved. A shrinking requirement releases no more
// than the record holds.
func PlanReservation(in SplitInput) (ReservationPlan, error) {
	delta := RoundQty(in.Required.Sub(in.DocReserved))
	switch {
	case delta.IsPositive():
		if delta.GreaterThan(in.Unrestricted) {
			return ReservationPlan{}, insufficientUnrestricted(in.Label, in.Unrestricted, delta)
		}
		return ReservationPlan{Reserve: delta}, nil
	case delta.IsNegative():
		release, _ := NonNegative(MinDecimal(delta.Neg(), in.Reserved))
		return ReservationPlan{Release: release}, nil
	default:
		return ReservationPlan{}, nil
	}
}

// SerialStock is one serial's requirement and current stock.
type SerialStock struct {
	SerialNo     string
	Required     decimal.Decimal
	Unrestricted decimal.Decimal
	Reserved     decimal.Decimal
}

// SerialDraw is the part of a group split assigned to one serial. Clamped is
// set when the serial's own stock could not cover its share.
type SerialDraw struct {
	SerialNo         string
	FromReserved     decimal.Decimal
	FromUnrestricted decimal.Decimal
	Clamped          bool
}

// DistributeSerialSplit assigns a group split to the serials being moved.
// Each serial takes its share of the total, from its own Reserved first and
// then its own Unrestricted, within what remains of the group split.
func DistributeSerialSplit(split Split, serials []SerialStock) []SerialDraw {
	totalRequired := decimal.Zero
	for _, s := range serials {
		totalRequired = totalRequired.Add(s.Required)
	}
	total := split.Total()
	remR, remU := split.FromReserved, split.FromUnrestricted

	draws := make([]SerialDraw, 0, len(serials))
	for _, s := range serials {
		need := s.Required
		if totalRequired.IsPositive() && !total.Equal(totalRequired) {
			need = RoundQty(total.Mul(s.Required).Div(totalRequired))
		}

		d := SerialDraw{SerialNo: s.SerialNo}
		d.FromReserved = nonNegMin(need, s.Reserved, remR)
		d.FromUnrestricted = nonNegMin(RoundQty(need.Sub(d.FromReserved)), s.Unrestricted, remU)

		left := RoundQty(need.Sub(d.FromReserved).Sub(d.FromUnrestricted))
		if left.IsPositive() {
			extraR := nonNegMin(left, RoundQty(remR.Sub(d.FromReserved)))
			d.FromReserved = RoundQty(d.FromReserved.Add(extraR))
			left = RoundQty(left.Sub(extraR))
			extraU := nonNegMin(left, RoundQty(remU.Sub(d.FromUnrestricted)))
			d.FromUnrestricted = RoundQty(d.FromUnrestricted.Add(extraU))
			d.Clamped = true
		}

		remR = RoundQty(remR.Sub(d.FromReserved))
		remU = RoundQty(remU.Sub(d.FromUnrestricted))
		draws = append(draws, d)
	}
	return draws
}

// DistributeRelease spreads a release over serials in the given order, each
// giving back at most its reserved quantity.
func DistributeRelease(amount decimal.Decimal, serials []SerialStock) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	remaining := amount
	for _, s := range serials {
		if !remaining.IsPositive() {
			break
		}
		take := nonNegMin(remaining, s.Reserved)
		if !take.IsPositive() {
			continue
		}
		out[s.SerialNo] = RoundQty(out[s.SerialNo].Add(take))
		remaining = RoundQty(remaining.Sub(take))
	}
	return out
}

func nonNegMin(first decimal.Decimal, rest ...decimal.Decimal) decimal.Decimal {
	m := first
	for _, d := range rest {
		m = MinDecimal(m, d)
	}
	v, _ := NonNegative(m)
	return v
}
