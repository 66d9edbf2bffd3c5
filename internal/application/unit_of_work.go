package application

import (
	"context"

	"github.com/wms-platform/ledger-engine/internal/domain"
	"github.com/wms-platform/ledger-engine/pkg/logging"
	"github.com/wms-platform/ledger-engine/pkg/resilience"
)

const (
	actionRevert     = "revert"
	actionSoftDelete = "soft-delete"

	storeFIFOLayer       = "fifo_layer"
	storeWeightedAverage = "weighted_average"
	storeMovement        = "movement"
	storeSerialMovement  = "serial_movement"
	storeReservation     = "reservation"
)

type compensatingAction struct {
	kind  string
	store string
	id    string
	undo  func(ctx context.Context) error
}

// UnitOfWork records how to undo every write of one document change.
// Updates are reverted from their pre-image; creations are soft-deleted.
type UnitOfWork struct {
	balances     domain.BalanceStore
	valuation    domain.ValuationStore
	movements    domain.MovementStore
	reservations domain.ReservationStore

	retry  *resilience.RetryConfig
	logger *logging.Logger

	updates   []compensatingAction
	creations []compensatingAction
}

func newUnitOfWork(e *LedgerEngine) *UnitOfWork {
	return &UnitOfWork{
		balances:     e.balancesStore,
		valuation:    e.valuation,
		movements:    e.movementStore,
		reservations: e.reservationStore,
		retry:        e.options.CompensationRetry,
		logger:       e.logger.WithComponent("unit-of-work"),
	}
}

// RevertBalance records the pre-image of a balance update.
func (u *UnitOfWork) RevertBalance(pre domain.BalanceRecord) {
	u.updates = append(u.updates, compensatingAction{
		kind:  actionRevert,
		store: "balance_" + pre.Key.Scope.Kind().String(),
		id:    pre.ID,
		undo:  func(ctx context.Context) error { return u.balances.Revert(ctx, pre) },
	})
}

// RevertLayer records the pre-image of a FIFO layer update.
func (u *UnitOfWork) RevertLayer(pre domain.FIFOLayer) {
	u.updates = append(u.updates, compensatingAction{
		kind:  actionRevert,
		store: storeFIFOLayer,
		id:    pre.ID,
		undo:  func(ctx context.Context) error { return u.valuation.SaveLayer(ctx, pre) },
	})
}

// RevertWeightedAverage records the pre-image of a weighted average update.
func (u *UnitOfWork) RevertWeightedAverage(pre domain.WeightedAverage) {
	u.updates = append(u.updates, compensatingAction{
		kind:  actionRevert,
		store: storeWeightedAverage,
		id:    pre.ID,
		undo:  func(ctx context.Context) error { return u.valuation.SaveWeightedAverage(ctx, pre) },
	})
}

// RevertReservation records the pre-image of a reservation update.
func (u *UnitOfWork) RevertReservation(pre domain.Reservation) {
	u.updates = append(u.updates, compensatingAction{
		kind:  actionRevert,
		store: storeReservation,
		id:    pre.ID,
		undo:  func(ctx context.Context) error { return u.reservations.Save(ctx, pre) },
	})
}

// SoftDeleteMovement records a created movement.
func (u *UnitOfWork) SoftDeleteMovement(id string) {
	u.creations = append(u.creations, compensatingAction{
		kind:  actionSoftDelete,
		store: storeMovement,
		id:    id,
		undo:  func(ctx context.Context) error { return u.movements.SoftDelete(ctx, id) },
	})
}

// SoftDeleteSerialMovement records a created serial movement.
func (u *UnitOfWork) SoftDeleteSerialMovement(id string) {
	u.creations = append(u.creations, compensatingAction{
		kind:  actionSoftDelete,
		store: storeSerialMovement,
		id:    id,
		undo:  func(ctx context.Context) error { return u.movements.SoftDeleteSerial(ctx, id) },
	})
}

// SoftDeleteReservation records a created reservation.
func (u *UnitOfWork) SoftDeleteReservation(id string) {
	u.creations = append(u.creations, compensatingAction{
		kind:  actionSoftDelete,
		store: storeReservation,
		id:    id,
		undo:  func(ctx context.Context) error { return u.reservations.SoftDelete(ctx, id) },
	})
}

// Len is the number of recorded actions.
func (u *UnitOfWork) Len() int {
	return len(u.updates) + len(u.creations)
}

// Rollback undoes the unit after cause. Updates are reverted newest first,
// then creations are soft-deleted newest first. Each action is retried; if
// any still fails a *domain.CompensationError is returned.
func (u *UnitOfWork) Rollback(ctx context.Context, cause error) error {
	// the caller's context may already be cancelled
	ctx = context.WithoutCancel(ctx)
	log := u.logger.WithContext(ctx)

	var failures []domain.ActionFailure
	applied := 0

	run := func(actions []compensatingAction) {
		for i := len(actions) - 1; i >= 0; i-- {
			a := actions[i]
			err := resilience.Retry(ctx, u.retry, func() error { return a.undo(ctx) })
			if err != nil {
				log.WithError(err).Error("Compensating action failed",
					"action", a.kind,
					"store", a.store,
					"id", a.id,
				)
				failures = append(failures, domain.ActionFailure{Action: a.kind, Store: a.store, ID: a.id, Err: err})
				continue
			}
			applied++
		}
	}
	run(u.updates)
	run(u.creations)

	if len(failures) > 0 {
		return &domain.CompensationError{Cause: cause, Failures: failures, Applied: applied}
	}
	log.Info("Unit of work rolled back", "actions", applied)
	return nil
}
