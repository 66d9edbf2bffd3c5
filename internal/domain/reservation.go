package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ReservationStatus is the lifecycle of a reservation record.
type ReservationStatus string

const (
	ReservationOpen      ReservationStatus = "OPEN"
	ReservationFulfilled ReservationStatus = "FULFILLED"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

// ReservationKey is the business identity of a reservation.
type ReservationKey struct {
	DocumentType string
	DocumentNo   string
	LineNo       string
	MaterialID   string
	LocationID   string
	BatchID      string
	SerialNo     string
}

func (k ReservationKey) String() string {
	return strings.Join([]string{
		k.DocumentType, k.DocumentNo, k.LineNo, k.MaterialID, k.LocationID, k.BatchID, k.SerialNo,
	}, "|")
}

// Reservation is the open reserved quantity a document holds for one
// allocation.
type Reservation struct {
	ID           string
	Key          ReservationKey
	PlantID      string
	ReservedQty  decimal.Decimal
	DeliveredQty decimal.Decimal
	OpenQty      decimal.Decimal
	Status       ReservationStatus
	IsDeleted    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewReservation builds an open reservation for qty.
func NewReservation(key ReservationKey, plantID string, qty decimal.Decimal) Reservation {
	r := Reservation{Key: key, PlantID: plantID, ReservedQty: RoundQty(qty), Status: ReservationOpen}
	r.recompute()
	return r
}

func (r *Reservation) recompute() {
	r.OpenQty, _ = NonNegative(RoundQty(r.ReservedQty.Sub(r.DeliveredQty)))
}

// Deliver records qty as delivered. A record with nothing left open is
// closed as fulfilled.
func (r *Reservation) Deliver(qty decimal.Decimal) {
	r.DeliveredQty = RoundQty(r.DeliveredQty.Add(qty))
	r.recompute()
	if r.OpenQty.IsZero() {
		r.Close(ReservationFulfilled)
	}
}

// Close soft-deletes the record with status.
func (r *Reservation) Close(status ReservationStatus) {
	r.Status = status
	r.IsDeleted = true
}

// Resize sets a new reserved quantity, keeping what was delivered. A record
// left with nothing open is closed: fulfilled when something was delivered,
// cancelled otherwise.
func (r *Reservation) Resize(qty decimal.Decimal) {
	r.ReservedQty = RoundQty(qty)
	r.recompute()
	if !r.OpenQty.IsZero() {
		return
	}
	if r.DeliveredQty.IsPositive() {
		r.Close(ReservationFulfilled)
	} else {
		r.Close(ReservationCancelled)
	}
}

// ReconciliationPlan is the set of writes that make the live reservations of
// a document match a target set.
type ReconciliationPlan struct {
	Create []Reservation
	// Update holds the new state of matched records whose quantity changed.
	Update []Reservation
	Cancel []Reservation
}

// IsEmpty reports whether no write is needed.
func (p ReconciliationPlan) IsEmpty() bool {
	return len(p.Create) == 0 && len(p.Update) == 0 && len(p.Cancel) == 0
}

// PlanReconciliation diffs existing live records against targets by business
// key. Targets sharing a key are merged. When legacy data holds several live
// records for one key the first is kept and the rest are cancelled.
func PlanReconciliation(existing, targets []Reservation) ReconciliationPlan {
	merged := make(map[string]Reservation)
	var targetKeys []string
	for _, t := range targets {
		k := t.Key.String()
		if m, ok := merged[k]; ok {
			m.ReservedQty = RoundQty(m.ReservedQty.Add(t.ReservedQty))
			m.recompute()
			merged[k] = m
			continue
		}
		merged[k] = t
		targetKeys = append(targetKeys, k)
	}
	sort.Strings(targetKeys)

	live := make([]Reservation, 0, len(existing))
	for _, r := range existing {
		if !r.IsDeleted {
			live = append(live, r)
		}
	}
	sort.SliceStable(live, func(i, j int) bool {
		return live[i].Key.String() < live[j].Key.String()
	})

	var plan ReconciliationPlan
	matched := make(map[string]bool)
	for _, r := range live {
		k := r.Key.String()
		target, wanted := merged[k]
		if !wanted || matched[k] {
			r.Close(ReservationCancelled)
			plan.Cancel = append(plan.Cancel, r)
			continue
		}
		matched[k] = true
		if r.ReservedQty.Equal(target.ReservedQty) {
			continue
		}
		r.Resize(target.ReservedQty)
		plan.Update = append(plan.Update, r)
	}

	for _, k := range targetKeys {
		if !matched[k] {
			plan.Create = append(plan.Create, merged[k])
		}
	}
	return plan
}

// OpenQuantity sums the open quantity of live records.
func OpenQuantity(records []Reservation) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		if !r.IsDeleted {
			total = total.Add(r.OpenQty)
		}
	}
	return RoundQty(total)
}
