package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ScopeKind enumerates the granularities at which stock balances are kept.
type ScopeKind int

const (
	ScopeAggregate ScopeKind = iota
	ScopeBatch
	ScopeSerial
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeBatch:
		return "batch"
	case ScopeSerial:
		return "serial"
	default:
		return "aggregate"
	}
}

// BalanceScope selects which projection a balance record belongs to. Build it
// with AggregateScope, BatchScope or SerialScope.
type BalanceScope struct {
	kind     ScopeKind
	batchID  string
	serialNo string
}

// AggregateScope is the per-location total for a material.
func AggregateScope() BalanceScope {
	return BalanceScope{kind: ScopeAggregate}
}

// BatchScope is the per-location balance of one batch.
func BatchScope(batchID string) BalanceScope {
	return BalanceScope{kind: ScopeBatch, batchID: batchID}
}

// SerialScope is the balance of one serial number. batchID may be empty.
func SerialScope(serialNo, batchID string) BalanceScope {
	return BalanceScope{kind: ScopeSerial, serialNo: serialNo, batchID: batchID}
}

// StockScope picks the batch scope when batchID is set, otherwise aggregate.
func StockScope(batchID string) BalanceScope {
	if batchID != "" {
		return BatchScope(batchID)
	}
	return AggregateScope()
}

func (s BalanceScope) Kind() ScopeKind  { return s.kind }
func (s BalanceScope) BatchID() string  { return s.batchID }
func (s BalanceScope) SerialNo() string { return s.serialNo }

func (s BalanceScope) String() string {
	switch s.kind {
	case ScopeBatch:
		return "batch:" + s.batchID
	case ScopeSerial:
		if s.batchID != "" {
			return "serial:" + s.serialNo + "@" + s.batchID
		}
		return "serial:" + s.serialNo
	default:
		return "aggregate"
	}
}

// BalanceKey identifies one balance record.
type BalanceKey struct {
	MaterialID string
	PlantID    string
	LocationID string
	Scope      BalanceScope
}

func (k BalanceKey) String() string {
	return fmt.Sprintf("%s@%s/%s[%s]", k.MaterialID, k.PlantID, k.LocationID, k.Scope)
}

// BalanceRecord is a stock balance at one scope. Balance tracks total stock on
// hand and moves with every deduction; a release between categories leaves it
// unchanged.
type BalanceRecord struct {
	ID           string
	Key          BalanceKey
	Unrestricted decimal.Decimal
	Reserved     decimal.Decimal
	Balance      decimal.Decimal
	UpdatedAt    time.Time
}

// BalanceDelta is a signed change to a balance record.
type BalanceDelta struct {
	Unrestricted decimal.Decimal
	Reserved     decimal.Decimal
}

// IsZero reports whether the delta changes nothing.
func (d BalanceDelta) IsZero() bool {
	return d.Unrestricted.IsZero() && d.Reserved.IsZero()
}

// Add combines two deltas.
func (d BalanceDelta) Add(o BalanceDelta) BalanceDelta {
	return BalanceDelta{
		Unrestricted: RoundQty(d.Unrestricted.Add(o.Unrestricted)),
		Reserved:     RoundQty(d.Reserved.Add(o.Reserved)),
	}
}

// Deduction is the delta of consuming the given quantities.
func Deduction(fromReserved, fromUnrestricted decimal.Decimal) BalanceDelta {
	return BalanceDelta{Unrestricted: fromUnrestricted.Neg(), Reserved: fromReserved.Neg()}
}

// Release is the delta of moving qty from Reserved back to Unrestricted.
func Release(qty decimal.Decimal) BalanceDelta {
	return BalanceDelta{Unrestricted: qty, Reserved: qty.Neg()}
}

// Reserve is the delta of moving qty from Unrestricted to Reserved.
func Reserve(qty decimal.Decimal) BalanceDelta {
	return BalanceDelta{Unrestricted: qty.Neg(), Reserved: qty}
}

// Clamp names a quantity that would have gone negative on write.
type Clamp struct {
	Field     string
	Attempted decimal.Decimal
}

// Apply mutates the record by delta. No field is ever written negative; the
// clamped fields are returned so the caller can report them. Balance follows
// the applied bucket changes, not the requested delta.
func (r *BalanceRecord) Apply(delta BalanceDelta) []Clamp {
	var clamps []Clamp

	set := func(field string, current *decimal.Decimal, change decimal.Decimal) {
		next := RoundQty(current.Add(change))
		if v, clamped := NonNegative(next); clamped {
			clamps = append(clamps, Clamp{Field: field, Attempted: next})
			next = v
		}
		*current = next
	}

	before := r.Unrestricted.Add(r.Reserved)
	set("unrestrictedQty", &r.Unrestricted, delta.Unrestricted)
	set("reservedQty", &r.Reserved, delta.Reserved)
	// Balance moves by what the buckets actually absorbed.
	set("balanceQuantity", &r.Balance, RoundQty(r.Unrestricted.Add(r.Reserved).Sub(before)))
	return clamps
}

// Snapshot returns a copy usable as a pre-image.
func (r *BalanceRecord) Snapshot() BalanceRecord {
	return *r
}
