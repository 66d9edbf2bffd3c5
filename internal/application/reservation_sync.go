package application

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wms-platform/ledger-engine/internal/domain"
	"github.com/wms-platform/ledger-engine/pkg/logging"
	"github.com/wms-platform/ledger-engine/pkg/metrics"
)

// ReservationSync keeps a document's reservation records consistent with
// its lines and deliveries.
type ReservationSync struct {
	store   domain.ReservationStore
	logger  *logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewReservationSync creates a ReservationSync. m may be nil.
func NewReservationSync(store domain.ReservationStore, logger *logging.Logger, m *metrics.Metrics) *ReservationSync {
	return &ReservationSync{
		store:   store,
		logger:  logger.WithComponent("reservation-sync"),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Load returns the live reservations of a document.
func (s *ReservationSync) Load(ctx context.Context, documentType, documentNo string) ([]domain.Reservation, error) {
	records, err := s.store.FindByDocument(ctx, documentType, documentNo)
	if err != nil {
		return nil, fmt.Errorf("failed to load reservations for %s %s: %w", documentType, documentNo, err)
	}
	return records, nil
}

// Targets builds one reservation per allocation, in base UOM.
func Targets(documentType, documentNo, plantID string, lines []domain.LineItem, materials map[string]*domain.Material) []domain.Reservation {
	var targets []domain.Reservation
	for _, line := range lines {
		material := materials[line.MaterialID]
		if material == nil {
			continue
		}
		for _, a := range line.Allocations {
			base, _ := material.ToBase(a.Quantity, line.UOM)
			if !base.IsPositive() {
				continue
			}
			key := domain.ReservationKey{
				DocumentType: documentType,
				DocumentNo:   documentNo,
				LineNo:       line.LineNo,
				MaterialID:   material.ID,
				LocationID:   a.LocationID,
				SerialNo:     a.SerialNo,
			}
			if material.IsBatchManaged {
				key.BatchID = a.BatchID
			}
			targets = append(targets, domain.NewReservation(key, plantID, base))
		}
	}
	return targets
}

func (s *ReservationSync) save(ctx context.Context, uow *UnitOfWork, pre, next domain.Reservation) error {
	next.UpdatedAt = s.now()
	if err := s.store.Save(ctx, next); err != nil {
		return fmt.Errorf("failed to save reservation %s: %w", next.Key, err)
	}
	uow.RevertReservation(pre)
	return nil
}

// Reconcile writes the keyed diff between existing and targets.
func (s *ReservationSync) Reconcile(ctx context.Context, uow *UnitOfWork, existing, targets []domain.Reservation) (domain.ReconciliationPlan, error) {
	plan := domain.PlanReconciliation(existing, targets)
	if plan.IsEmpty() {
		return plan, nil
	}

	byID := make(map[string]domain.Reservation, len(existing))
	for _, r := range existing {
		byID[r.ID] = r
	}

	for _, next := range append(append([]domain.Reservation{}, plan.Update...), plan.Cancel...) {
		if err := s.save(ctx, uow, byID[next.ID], next); err != nil {
			return plan, err
		}
	}
	for i := range plan.Create {
		r := plan.Create[i]
		r.CreatedAt = s.now()
		r.UpdatedAt = r.CreatedAt
		id, err := s.store.Create(ctx, &r)
		if err != nil {
			return plan, fmt.Errorf("failed to create reservation %s: %w", r.Key, err)
		}
		r.ID = id
		plan.Create[i] = r
		uow.SoftDeleteReservation(id)
	}

	if s.metrics != nil {
		s.metrics.RecordReservationSync("created", len(plan.Create))
		s.metrics.RecordReservationSync("updated", len(plan.Update))
		s.metrics.RecordReservationSync("cancelled", len(plan.Cancel))
	}
	s.logger.WithContext(ctx).Info("Reservations reconciled",
		"created", len(plan.Create),
		"updated", len(plan.Update),
		"cancelled", len(plan.Cancel),
	)
	return plan, nil
}

// Settle books a deduction against the reservations it consumed and closes
// them: delivered quantity goes to records in order, and anything still open
// is cancelled since its stock was released. serialDelivered, when set,
// assigns delivery by serial number instead.
func (s *ReservationSync) Settle(ctx context.Context, uow *UnitOfWork, records []*domain.Reservation, delivered decimal.Decimal, serialDelivered map[string]decimal.Decimal) error {
	remaining := delivered
	for _, rec := range records {
		if rec.IsDeleted {
			continue
		}
		pre := *rec

		var qty decimal.Decimal
		if serialDelivered != nil {
			qty = domain.MinDecimal(rec.OpenQty, serialDelivered[rec.Key.SerialNo])
			serialDelivered[rec.Key.SerialNo] = domain.RoundQty(serialDelivered[rec.Key.SerialNo].Sub(qty))
		} else {
			qty = domain.MinDecimal(rec.OpenQty, remaining)
			remaining = domain.RoundQty(remaining.Sub(qty))
		}
		if qty.IsPositive() {
			rec.Deliver(qty)
		}
		if !rec.IsDeleted {
			rec.Close(domain.ReservationCancelled)
		}

		if err := s.save(ctx, uow, pre, *rec); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.RecordReservationSync(string(rec.Status), 1)
		}
	}
	return nil
}

// Fulfill adds deliveries to matching live records. Deliveries without a
// matching record are reported, not failed.
func (s *ReservationSync) Fulfill(ctx context.Context, uow *UnitOfWork, documentType, documentNo string, existing []domain.Reservation, deliveries []Delivery) (*FulfillResult, error) {
	byKey := make(map[string]int, len(existing))
	for i, r := range existing {
		if r.IsDeleted {
			continue
		}
		if _, dup := byKey[r.Key.String()]; !dup {
			byKey[r.Key.String()] = i
		}
	}

	result := &FulfillResult{}
	for _, d := range deliveries {
		key := domain.ReservationKey{
			DocumentType: documentType,
			DocumentNo:   documentNo,
			LineNo:       d.LineNo,
			MaterialID:   d.MaterialID,
			LocationID:   d.LocationID,
			BatchID:      d.BatchID,
			SerialNo:     d.SerialNo,
		}
		i, ok := byKey[key.String()]
		if !ok || existing[i].IsDeleted {
			result.Unmatched = append(result.Unmatched, key.String())
			s.logger.WithContext(ctx).Warn("Delivery has no open reservation", "key", key.String())
			continue
		}

		pre := existing[i]
		existing[i].Deliver(d.Quantity)
		if err := s.save(ctx, uow, pre, existing[i]); err != nil {
			return nil, err
		}
		result.Updated++
		if existing[i].Status == domain.ReservationFulfilled {
			result.Fulfilled++
		}
	}

	if s.metrics != nil {
		s.metrics.RecordReservationSync("fulfilled", result.Fulfilled)
	}
	return result, nil
}
