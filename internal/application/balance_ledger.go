package application

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wms-platform/ledger-engine/internal/domain"
	"github.com/wms-platform/ledger-engine/pkg/logging"
	"github.com/wms-platform/ledger-engine/pkg/metrics"
)

// BalanceLedger applies category splits to balance records and keeps the
// batch and aggregate projections in step with the record it changes.
type BalanceLedger struct {
	balances domain.BalanceStore
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// NewBalanceLedger creates a BalanceLedger. m may be nil.
func NewBalanceLedger(balances domain.BalanceStore, logger *logging.Logger, m *metrics.Metrics) *BalanceLedger {
	return &BalanceLedger{
		balances: balances,
		logger:   logger.WithComponent("balance-ledger"),
		metrics:  m,
	}
}

// GroupRequest is one allocation group to apply. Quantities are base UOM.
type GroupRequest struct {
	Material *domain.Material
	PlantID  string
	Stage    domain.DocumentStage
	Group    domain.AllocationGroup

	Required    decimal.Decimal
	DocReserved decimal.Decimal

	// Serials lists the serials being moved with their base quantity, and
	// PreviousSerials what the document held per serial before the change.
	Serials         []domain.SerialStock
	PreviousSerials map[string]decimal.Decimal
	// PreviousOrder is the key order of PreviousSerials.
	PreviousOrder []string
}

// SerialShare is the quantity of one serial within a movement.
type SerialShare struct {
	SerialNo string
	BatchID  string
	Qty      decimal.Decimal
}

// GroupOutcome is what a group application changed.
type GroupOutcome struct {
	Split domain.Split
	// Reserved is the quantity moved into Reserved by a reserve action.
	Reserved decimal.Decimal

	SerialFromReserved     []SerialShare
	SerialFromUnrestricted []SerialShare
	SerialReleased         []SerialShare
	SerialReserved         []SerialShare
}

func (l *BalanceLedger) stockKey(req GroupRequest) domain.BalanceKey {
	return domain.BalanceKey{
		MaterialID: req.Material.ID,
		PlantID:    req.PlantID,
		LocationID: req.Group.LocationID,
		Scope:      domain.StockScope(req.Group.BatchID),
	}
}

func (l *BalanceLedger) load(ctx context.Context, key domain.BalanceKey, label string) (*domain.BalanceRecord, error) {
	record, err := l.balances.Find(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load balance %s: %w", key, err)
	}
	if record == nil {
		return nil, domain.NewLedgerError(domain.KindBalanceRecordMissing,
			"No balance record for %s at location %s", label, key.LocationID)
	}
	return record, nil
}

// mutate applies delta, saves the record and registers its pre-image.
func (l *BalanceLedger) mutate(ctx context.Context, uow *UnitOfWork, record *domain.BalanceRecord, delta domain.BalanceDelta) error {
	if delta.IsZero() {
		return nil
	}
	pre := record.Snapshot()
	for _, c := range record.Apply(delta) {
		l.logger.WithContext(ctx).Warn("Clamped negative balance",
			"materialId", record.Key.MaterialID,
			"locationId", record.Key.LocationID,
			"scope", record.Key.Scope.String(),
			"field", c.Field,
			"attempted", c.Attempted.String(),
		)
		if l.metrics != nil {
			l.metrics.RecordNegativeClamp(record.Key.Scope.Kind().String())
		}
	}
	if err := l.balances.Save(ctx, record); err != nil {
		return fmt.Errorf("failed to save balance %s: %w", record.Key, err)
	}
	uow.RevertBalance(pre)
	return nil
}

// propagate mirrors a delta onto a dependent projection. A missing record is
// skipped with a warning.
func (l *BalanceLedger) propagate(ctx context.Context, uow *UnitOfWork, key domain.BalanceKey, delta domain.BalanceDelta) error {
	if delta.IsZero() {
		return nil
	}
	record, err := l.balances.Find(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to load balance %s: %w", key, err)
	}
	if record == nil {
		l.logger.WithContext(ctx).Warn("Dependent balance record missing, skipping propagation",
			"materialId", key.MaterialID,
			"locationId", key.LocationID,
			"scope", key.Scope.String(),
		)
		return nil
	}
	return l.mutate(ctx, uow, record, delta)
}

// propagateSerialDeltas rolls per-serial deltas up to batch and aggregate
// records.
func (l *BalanceLedger) propagateSerialDeltas(ctx context.Context, uow *UnitOfWork, req GroupRequest, deltas map[string]domain.BalanceDelta, batchOf map[string]string, order []string) error {
	total := domain.BalanceDelta{}
	byBatch := make(map[string]domain.BalanceDelta)
	var batches []string
	for _, sn := range order {
		d, ok := deltas[sn]
		if !ok {
			continue
		}
		total = total.Add(d)
		if b := batchOf[sn]; b != "" {
			if _, seen := byBatch[b]; !seen {
				batches = append(batches, b)
			}
			byBatch[b] = byBatch[b].Add(d)
		}
	}

	base := domain.BalanceKey{MaterialID: req.Material.ID, PlantID: req.PlantID, LocationID: req.Group.LocationID}
	for _, b := range batches {
		key := base
		key.Scope = domain.BatchScope(b)
		if err := l.propagate(ctx, uow, key, byBatch[b]); err != nil {
			return err
		}
	}
	base.Scope = domain.AggregateScope()
	return l.propagate(ctx, uow, base, total)
}

// ApplyDeduction consumes a group's requirement under the stage policy and
// releases whatever the document reserved beyond it.
func (l *BalanceLedger) ApplyDeduction(ctx context.Context, uow *UnitOfWork, req GroupRequest) (*GroupOutcome, error) {
	if req.Material.IsSerialized {
		return l.applySerialDeduction(ctx, uow, req)
	}

	key := l.stockKey(req)
	record, err := l.load(ctx, key, req.Material.Label())
	if err != nil {
		return nil, err
	}

	split, err := domain.PlanDeduction(req.Stage, domain.SplitInput{
		Label:        req.Material.Label(),
		Required:     req.Required,
		DocReserved:  req.DocReserved,
		Reserved:     record.Reserved,
		Unrestricted: record.Unrestricted,
		Releasable:   record.Reserved,
	})
	if err != nil {
		return nil, err
	}

	delta := domain.Deduction(split.FromReserved, split.FromUnrestricted).Add(domain.Release(split.Released))
	if err := l.mutate(ctx, uow, record, delta); err != nil {
		return nil, err
	}
	if key.Scope.Kind() == domain.ScopeBatch {
		agg := key
		agg.Scope = domain.AggregateScope()
		if err := l.propagate(ctx, uow, agg, delta); err != nil {
			return nil, err
		}
	}
	return &GroupOutcome{Split: split}, nil
}

type serialRecords struct {
	byNo  map[string]*domain.BalanceRecord
	order []string
}

// loadSerials fetches the records of the moved serials plus any serials the
// document held before. Only moved serials must exist.
func (l *BalanceLedger) loadSerials(ctx context.Context, req GroupRequest) (*serialRecords, error) {
	seen := make(map[string]bool)
	var order []string
	for _, s := range req.Serials {
		if !seen[s.SerialNo] {
			seen[s.SerialNo] = true
			order = append(order, s.SerialNo)
		}
	}
	for _, sn := range req.PreviousOrder {
		if !seen[sn] {
			seen[sn] = true
			order = append(order, sn)
		}
	}

	records, err := l.balances.FindSerials(ctx, req.Material.ID, req.PlantID, req.Group.LocationID, order)
	if err != nil {
		return nil, fmt.Errorf("failed to load serial balances: %w", err)
	}
	out := &serialRecords{byNo: make(map[string]*domain.BalanceRecord, len(records))}
	for i := range records {
		out.byNo[records[i].Key.Scope.SerialNo()] = &records[i]
	}

	for _, s := range req.Serials {
		if out.byNo[s.SerialNo] == nil {
			return nil, domain.NewLedgerError(domain.KindSerialBalanceMissing,
				"No balance record for serial %s of %s at location %s", s.SerialNo, req.Material.Label(), req.Group.LocationID)
		}
	}
	for _, sn := range order {
		if out.byNo[sn] != nil {
			out.order = append(out.order, sn)
			continue
		}
		l.logger.WithContext(ctx).Warn("Previously reserved serial has no balance record",
			"materialId", req.Material.ID,
			"serialNo", sn,
		)
	}
	return out, nil
}

func (l *BalanceLedger) applySerialDeduction(ctx context.Context, uow *UnitOfWork, req GroupRequest) (*GroupOutcome, error) {
	records, err := l.loadSerials(ctx, req)
	if err != nil {
		return nil, err
	}

	stocks := make([]domain.SerialStock, 0, len(req.Serials))
	sumU, sumR, releasable := decimal.Zero, decimal.Zero, decimal.Zero
	moving := make(map[string]bool)
	for _, s := range req.Serials {
		rec := records.byNo[s.SerialNo]
		stocks = append(stocks, domain.SerialStock{
			SerialNo:     s.SerialNo,
			Required:     s.Required,
			Unrestricted: rec.Unrestricted,
			Reserved:     rec.Reserved,
		})
		moving[s.SerialNo] = true
		sumU = sumU.Add(rec.Unrestricted)
		sumR = sumR.Add(rec.Reserved)
	}
	for _, sn := range records.order {
		releasable = releasable.Add(records.byNo[sn].Reserved)
	}

	split, err := domain.PlanDeduction(req.Stage, domain.SplitInput{
		Label:        req.Material.Label(),
		Required:     req.Required,
		DocReserved:  req.DocReserved,
		Reserved:     domain.RoundQty(sumR),
		Unrestricted: domain.RoundQty(sumU),
		Releasable:   domain.RoundQty(releasable),
	})
	if err != nil {
		return nil, err
	}

	draws := domain.DistributeSerialSplit(split, stocks)
	outcome := &GroupOutcome{Split: split}
	deltas := make(map[string]domain.BalanceDelta)
	batchOf := make(map[string]string)

	remainingReserved := make(map[string]decimal.Decimal)
	for _, sn := range records.order {
		remainingReserved[sn] = records.byNo[sn].Reserved
		batchOf[sn] = records.byNo[sn].Key.Scope.BatchID()
	}

	for _, d := range draws {
		if d.Clamped {
			l.logger.WithContext(ctx).Warn("Serial stock does not cover its share",
				"materialId", req.Material.ID,
				"serialNo", d.SerialNo,
			)
		}
		deltas[d.SerialNo] = domain.Deduction(d.FromReserved, d.FromUnrestricted)
		remainingReserved[d.SerialNo] = domain.RoundQty(remainingReserved[d.SerialNo].Sub(d.FromReserved))
		if d.FromReserved.IsPositive() {
			outcome.SerialFromReserved = append(outcome.SerialFromReserved, SerialShare{SerialNo: d.SerialNo, BatchID: batchOf[d.SerialNo], Qty: d.FromReserved})
		}
		if d.FromUnrestricted.IsPositive() {
			outcome.SerialFromUnrestricted = append(outcome.SerialFromUnrestricted, SerialShare{SerialNo: d.SerialNo, BatchID: batchOf[d.SerialNo], Qty: d.FromUnrestricted})
		}
	}

	if split.Released.IsPositive() {
		// serials the document no longer moves give their reservation back first
		var candidates []domain.SerialStock
		for _, pass := range []bool{false, true} {
			for _, sn := range records.order {
				if moving[sn] == pass {
					candidates = append(candidates, domain.SerialStock{SerialNo: sn, Reserved: remainingReserved[sn]})
				}
			}
		}
		released := domain.DistributeRelease(split.Released, candidates)
		for _, c := range candidates {
			qty, ok := released[c.SerialNo]
			if !ok {
				continue
			}
			deltas[c.SerialNo] = deltas[c.SerialNo].Add(domain.Release(qty))
			outcome.SerialReleased = append(outcome.SerialReleased, SerialShare{SerialNo: c.SerialNo, BatchID: batchOf[c.SerialNo], Qty: qty})
		}
	}

	for _, sn := range records.order {
		if d, ok := deltas[sn]; ok {
			if err := l.mutate(ctx, uow, records.byNo[sn], d); err != nil {
				return nil, err
			}
		}
	}
	if err := l.propagateSerialDeltas(ctx, uow, req, deltas, batchOf, records.order); err != nil {
		return nil, err
	}
	return outcome, nil
}

// ApplyReservation moves the difference between the group's requirement and
// what the document already reserved between Unrestricted and Reserved.
func (l *BalanceLedger) ApplyReservation(ctx context.Context, uow *UnitOfWork, req GroupRequest) (*GroupOutcome, error) {
	if req.Material.IsSerialized {
		return l.applySerialReservation(ctx, uow, req)
	}

	key := l.stockKey(req)
	record, err := l.load(ctx, key, req.Material.Label())
	if err != nil {
		return nil, err
	}

	plan, err := domain.PlanReservation(domain.SplitInput{
		Label:        req.Material.Label(),
		Required:     req.Required,
		DocReserved:  req.DocReserved,
		Reserved:     record.Reserved,
		Unrestricted: record.Unrestricted,
	})
	if err != nil {
		return nil, err
	}

	delta := domain.Reserve(plan.Reserve).Add(domain.Release(plan.Release))
	if err := l.mutate(ctx, uow, record, delta); err != nil {
		return nil, err
	}
	if key.Scope.Kind() == domain.ScopeBatch {
		agg := key
		agg.Scope = domain.AggregateScope()
		if err := l.propagate(ctx, uow, agg, delta); err != nil {
			return nil, err
		}
	}
	return &GroupOutcome{Reserved: plan.Reserve, Split: domain.Split{Released: plan.Release}}, nil
}

func (l *BalanceLedger) applySerialReservation(ctx context.Context, uow *UnitOfWork, req GroupRequest) (*GroupOutcome, error) {
	records, err := l.loadSerials(ctx, req)
	if err != nil {
		return nil, err
	}

	required := make(map[string]decimal.Decimal)
	for _, s := range req.Serials {
		required[s.SerialNo] = domain.RoundQty(required[s.SerialNo].Add(s.Required))
	}

	outcome := &GroupOutcome{}
	deltas := make(map[string]domain.BalanceDelta)
	batchOf := make(map[string]string)
	for _, sn := range records.order {
		rec := records.byNo[sn]
		batchOf[sn] = rec.Key.Scope.BatchID()

		plan, err := domain.PlanReservation(domain.SplitInput{
			Label:        fmt.Sprintf("%s serial %s", req.Material.Label(), sn),
			Required:     required[sn],
			DocReserved:  req.PreviousSerials[sn],
			Reserved:     rec.Reserved,
			Unrestricted: rec.Unrestricted,
		})
		if err != nil {
			return nil, err
		}
		if plan.Reserve.IsPositive() {
			outcome.Reserved = domain.RoundQty(outcome.Reserved.Add(plan.Reserve))
			outcome.SerialReserved = append(outcome.SerialReserved, SerialShare{SerialNo: sn, BatchID: batchOf[sn], Qty: plan.Reserve})
		}
		if plan.Release.IsPositive() {
			outcome.Split.Released = domain.RoundQty(outcome.Split.Released.Add(plan.Release))
			outcome.SerialReleased = append(outcome.SerialReleased, SerialShare{SerialNo: sn, BatchID: batchOf[sn], Qty: plan.Release})
		}
		deltas[sn] = domain.Reserve(plan.Reserve).Add(domain.Release(plan.Release))
	}

	for _, sn := range records.order {
		if err := l.mutate(ctx, uow, records.byNo[sn], deltas[sn]); err != nil {
			return nil, err
		}
	}
	if err := l.propagateSerialDeltas(ctx, uow, req, deltas, batchOf, records.order); err != nil {
		return nil, err
	}
	return outcome, nil
}
