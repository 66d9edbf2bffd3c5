package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wms-platform/ledger-engine/internal/domain"
	"github.com/wms-platform/ledger-engine/pkg/logging"
	"github.com/wms-platform/ledger-engine/pkg/metrics"
	"github.com/wms-platform/ledger-engine/pkg/resilience"
	"github.com/wms-platform/ledger-engine/pkg/tracing"
)

const tracerName = "github.com/wms-platform/ledger-engine/internal/application"

// Options tunes the engine.
type Options struct {
	// UseTransactions runs each unit of work inside a store transaction when
	// a Transactor is available.
	UseTransactions bool
	PublishEvents   bool
	// CompensationRetry is applied to every compensating action.
	CompensationRetry *resilience.RetryConfig
}

// DefaultOptions returns default engine options
func DefaultOptions() Options {
	return Options{
		PublishEvents:     true,
		CompensationRetry: resilience.DefaultRetryConfig(),
	}
}

// Dependencies are the stores the engine works against. Transactor and
// Events are optional.
type Dependencies struct {
	Materials    domain.MaterialRepository
	Balances     domain.BalanceStore
	Valuation    domain.ValuationStore
	Movements    domain.MovementStore
	Reservations domain.ReservationStore
	Transactor   domain.Transactor
	Events       domain.EventPublisher
}

// LedgerEngine applies document-driven stock changes with costing,
// movements and reservation bookkeeping, all or nothing per document.
type LedgerEngine struct {
	materials        domain.MaterialRepository
	balancesStore    domain.BalanceStore
	valuation        domain.ValuationStore
	movementStore    domain.MovementStore
	reservationStore domain.ReservationStore
	transactor       domain.Transactor
	events           domain.EventPublisher

	costs        *CostResolver
	balances     *BalanceLedger
	movements    *MovementRecorder
	reservations *ReservationSync

	options Options
	logger  *logging.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// NewLedgerEngine creates a LedgerEngine. m may be nil.
func NewLedgerEngine(deps Dependencies, options Options, logger *logging.Logger, m *metrics.Metrics) *LedgerEngine {
	if options.CompensationRetry == nil {
		options.CompensationRetry = resilience.DefaultRetryConfig()
	}
	return &LedgerEngine{
		materials:        deps.Materials,
		balancesStore:    deps.Balances,
		valuation:        deps.Valuation,
		movementStore:    deps.Movements,
		reservationStore: deps.Reservations,
		transactor:       deps.Transactor,
		events:           deps.Events,
		costs:            NewCostResolver(deps.Valuation, logger, m),
		balances:         NewBalanceLedger(deps.Balances, logger, m),
		movements:        NewMovementRecorder(deps.Movements, logger, m),
		reservations:     NewReservationSync(deps.Reservations, logger, m),
		options:          options,
		logger:           logger.WithComponent("ledger-engine"),
		metrics:          m,
		tracer:           otel.Tracer(tracerName),
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// execution describes how a unit of work ended.
type execution struct {
	actions     int
	inTx        bool
	compensated bool
}

// execute runs fn as one unit of work. Inside a transaction a failure is
// discarded by the store; otherwise the recorded actions are replayed.
func (e *LedgerEngine) execute(ctx context.Context, fn func(ctx context.Context, uow *UnitOfWork) error) (execution, error) {
	exec := execution{inTx: e.options.UseTransactions && e.transactor != nil}

	var uow *UnitOfWork
	run := func(ctx context.Context) error {
		// the transaction may retry the callback
		uow = newUnitOfWork(e)
		return fn(ctx, uow)
	}

	var err error
	if exec.inTx {
		err = e.transactor.WithTransaction(ctx, run)
	} else {
		err = run(ctx)
	}
	if uow != nil {
		exec.actions = uow.Len()
	}
	if err == nil {
		return exec, nil
	}

	if exec.inTx || uow == nil {
		exec.compensated = true
		e.recordCompensation("compensated", exec.actions)
		return exec, err
	}

	if compErr := uow.Rollback(ctx, err); compErr != nil {
		e.logger.WithContext(ctx).WithError(compErr).Error("Compensation failed, ledger left partially applied",
			"actions", exec.actions,
		)
		e.recordCompensation("failed", exec.actions)
		return exec, compErr
	}
	exec.compensated = true
	e.recordCompensation("compensated", exec.actions)
	return exec, err
}

func (e *LedgerEngine) recordCompensation(outcome string, actions int) {
	if e.metrics != nil && actions > 0 {
		e.metrics.RecordCompensation(outcome)
	}
}

func (e *LedgerEngine) publish(ctx context.Context, event domain.Event) error {
	if !e.options.PublishEvents || e.events == nil {
		return nil
	}
	if err := e.events.Publish(ctx, event); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.EventType(), err)
	}
	return nil
}

func (e *LedgerEngine) loadMaterial(ctx context.Context, id string) (*domain.Material, error) {
	material, err := e.materials.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load material %s: %w", id, err)
	}
	if material == nil {
		return nil, domain.NewLedgerError(domain.KindItemNotFound, "Item %s not found", id)
	}
	return material, nil
}

// loadMaterials returns the materials of lines, or the index of the first
// line whose material failed to load.
func (e *LedgerEngine) loadMaterials(ctx context.Context, lines []domain.LineItem) (map[string]*domain.Material, int, error) {
	materials := make(map[string]*domain.Material)
	for i, line := range lines {
		if _, ok := materials[line.MaterialID]; ok {
			continue
		}
		material, err := e.loadMaterial(ctx, line.MaterialID)
		if err != nil {
			return nil, i, err
		}
		materials[line.MaterialID] = material
	}
	return materials, -1, nil
}

// normalizeLines numbers unnumbered lines by position.
func normalizeLines(lines []domain.LineItem) []domain.LineItem {
	out := make([]domain.LineItem, len(lines))
	copy(out, lines)
	for i := range out {
		if out[i].LineNo == "" {
			out[i].LineNo = strconv.Itoa(i + 1)
		}
	}
	return out
}

func validateLines(lines []domain.LineItem) (int, error) {
	if len(lines) == 0 {
		return -1, domain.NewLedgerError(domain.KindInvalidInput, "at least one line is required")
	}
	for i, line := range lines {
		if err := domain.ValidateLine(line); err != nil {
			return i, err
		}
	}
	return -1, nil
}

// processingOrder puts FIFO-costed lines first, otherwise keeping input order.
func processingOrder(lines []domain.LineItem, materials map[string]*domain.Material) []int {
	order := make([]int, len(lines))
	for i := range order {
		order[i] = i
	}
	isFIFO := func(i int) bool {
		m := materials[lines[i].MaterialID]
		return m != nil && m.CostingMethod == domain.CostingFIFO
	}
	sort.SliceStable(order, func(a, b int) bool {
		return isFIFO(order[a]) && !isFIFO(order[b])
	})
	return order
}

// changeState is threaded through one document change.
type changeState struct {
	doc          domain.Document
	consumption  *domain.ConsumptionLedger
	reservations []domain.Reservation
	movements    []domain.Movement
}

// heldGroup is what the document held on one group before the change.
type heldGroup struct {
	LocationID  string
	BatchID     string
	Total       decimal.Decimal
	Serials     map[string]decimal.Decimal
	SerialOrder []string
	Records     []*domain.Reservation
}

func (h *heldGroup) add(serialNo string, qty decimal.Decimal) {
	h.Total = domain.RoundQty(h.Total.Add(qty))
	if serialNo == "" {
		return
	}
	if _, ok := h.Serials[serialNo]; !ok {
		h.SerialOrder = append(h.SerialOrder, serialNo)
	}
	h.Serials[serialNo] = domain.RoundQty(h.Serials[serialNo].Add(qty))
}

// heldReservations works out, per group, what the document reserved before
// this change: the pre-edit snapshot when the document is an edit and the
// line carries one, else its open reservation records.
func heldReservations(line domain.LineItem, isEdit bool, material *domain.Material, records []domain.Reservation) map[string]*heldGroup {
	snapshot := isEdit && line.HasSnapshot()
	held := make(map[string]*heldGroup)
	get := func(locationID, batchID string) *heldGroup {
		if !material.IsBatchManaged {
			batchID = ""
		}
		key := domain.GroupKey(locationID, batchID, material.IsBatchManaged)
		h, ok := held[key]
		if !ok {
			h = &heldGroup{LocationID: locationID, BatchID: batchID, Serials: make(map[string]decimal.Decimal)}
			held[key] = h
		}
		return h
	}

	for i := range records {
		r := &records[i]
		if r.IsDeleted || r.Key.LineNo != line.LineNo || r.Key.MaterialID != material.ID {
			continue
		}
		h := get(r.Key.LocationID, r.Key.BatchID)
		h.Records = append(h.Records, r)
		if !snapshot {
			h.add(r.Key.SerialNo, r.OpenQty)
		}
	}

	if snapshot {
		for _, a := range line.PreviousAllocations {
			base, _ := material.ToBase(a.Quantity, line.UOM)
			get(a.LocationID, a.BatchID).add(a.SerialNo, base)
		}
	}
	return held
}

// ApplyInventoryChange applies a document's lines. On any failure every write
// of the document is undone and the result reports the failing line.
func (e *LedgerEngine) ApplyInventoryChange(ctx context.Context, cmd ApplyChangeCommand) (*ChangeResult, error) {
	doc := cmd.Document
	if doc.Action == "" {
		doc.Action = domain.ActionDeduct
	}
	if doc.UserID == "" {
		doc.UserID = logging.UserIDFromContext(ctx)
	}
	lines := normalizeLines(cmd.Lines)

	ctx, span := e.tracer.Start(ctx, "ledger.ApplyInventoryChange",
		trace.WithAttributes(tracing.DocumentAttributes(doc.DocumentType, doc.DocumentNo, string(doc.Stage))...),
		trace.WithAttributes(attribute.String("ledger.action", string(doc.Action)), attribute.Int("ledger.lines", len(lines))),
	)
	defer span.End()

	start := e.now()
	log := e.logger.WithContext(ctx).WithDocument(doc.DocumentType, doc.DocumentNo)
	result := newChangeResult(doc, lines)

	finish := func(err error, outcome string) (*ChangeResult, error) {
		tracing.RecordOutcome(span, err)
		duration := e.now().Sub(start)
		if e.metrics != nil {
			e.metrics.RecordChange(string(doc.Stage), outcome, duration)
		}
		log.Performance(ctx, "ApplyInventoryChange", duration, err == nil, map[string]any{
			"action": string(doc.Action),
			"lines":  len(lines),
		})
		if err != nil {
			return result, err
		}
		return result, nil
	}

	if err := doc.Validate(); err != nil {
		result.fail(-1, err)
		return finish(err, "invalid")
	}
	if i, err := validateLines(lines); err != nil {
		result.fail(i, err)
		return finish(err, "invalid")
	}

	materials, failed, err := e.loadMaterials(ctx, lines)
	if err != nil {
		result.fail(failed, err)
		return finish(err, "failed")
	}

	order := processingOrder(lines, materials)
	failedLine := -1
	var movements []domain.Movement

	exec, err := e.execute(ctx, func(ctx context.Context, uow *UnitOfWork) error {
		result.reset()
		failedLine = -1

		st := &changeState{doc: doc, consumption: domain.NewConsumptionLedger()}
		if doc.Stage == domain.StageReserved || doc.Action == domain.ActionReserve {
			records, err := e.reservations.Load(ctx, doc.DocumentType, doc.DocumentNo)
			if err != nil {
				return err
			}
			sort.SliceStable(records, func(i, j int) bool {
				return records[i].Key.String() < records[j].Key.String()
			})
			st.reservations = records
		}

		for _, i := range order {
			line := lines[i]
			lr, err := e.applyLine(ctx, uow, st, line, materials[line.MaterialID])
			if err != nil {
				failedLine = i
				return err
			}
			result.Lines[i] = *lr
		}

		if err := e.flushFIFO(ctx, uow, st.consumption); err != nil {
			return err
		}

		if doc.Action == domain.ActionReserve {
			targets := Targets(doc.DocumentType, doc.DocumentNo, doc.PlantID, lines, materials)
			plan, err := e.reservations.Reconcile(ctx, uow, st.reservations, targets)
			if err != nil {
				return err
			}
			if !plan.IsEmpty() {
				if err := e.publish(ctx, &domain.ReservationsReconciled{
					DocumentType: doc.DocumentType,
					DocumentNo:   doc.DocumentNo,
					Created:      len(plan.Create),
					Updated:      len(plan.Update),
					Cancelled:    len(plan.Cancel),
					At:           e.now(),
				}); err != nil {
					return err
				}
			}
		}

		movements = st.movements
		return e.publish(ctx, &domain.InventoryChangeApplied{Document: doc, Movements: summarize(st.movements), At: e.now()})
	})

	if err != nil {
		result.fail(failedLine, err)
		log.WithError(err).Warn("Inventory change failed",
			"kind", string(domain.KindOf(err)),
			"actions", exec.actions,
			"inTransaction", exec.inTx,
		)

		if perr := e.publish(ctx, &domain.InventoryChangeCompensated{
			Document:       doc,
			Reason:         err.Error(),
			ActionsApplied: exec.actions,
			Complete:       exec.compensated,
			At:             e.now(),
		}); perr != nil {
			log.WithError(perr).Warn("Failed to publish compensation event")
		}

		outcome := "failed"
		if domain.KindOf(err) == domain.KindCompensationFailure {
			outcome = "compensation_failed"
		}
		return finish(err, outcome)
	}

	result.Success = true
	result.Message = fmt.Sprintf("%d line(s) applied, %d movement(s) recorded", len(lines), len(movements))
	log.Event(ctx, "inventory_change_applied", map[string]any{
		"stage":     string(doc.Stage),
		"action":    string(doc.Action),
		"movements": len(movements),
	})
	return finish(nil, "success")
}

func summarize(movements []domain.Movement) []domain.MovementRecorded {
	out := make([]domain.MovementRecorded, 0, len(movements))
	for _, m := range movements {
		out = append(out, domain.MovementRecorded{
			MovementID: m.ID,
			MaterialID: m.MaterialID,
			LocationID: m.LocationID,
			BatchID:    m.BatchID,
			Direction:  m.Direction,
			Category:   m.Category,
			BaseQty:    m.BaseQty,
			UnitPrice:  m.UnitPrice,
		})
	}
	return out
}

// applyLine applies every group of a line, including groups the document
// held before but no longer allocates.
func (e *LedgerEngine) applyLine(ctx context.Context, uow *UnitOfWork, st *changeState, line domain.LineItem, material *domain.Material) (*LineResult, error) {
	doc := st.doc
	current, converted := domain.GroupLine(line, material)
	if !converted {
		e.logger.WithContext(ctx).Warn("No UOM conversion, using 1:1",
			"materialId", material.ID,
			"uom", line.UOM,
			"baseUom", material.BaseUOM,
		)
	}
	currentByKey := domain.IndexGroups(current)

	held := map[string]*heldGroup{}
	if doc.Stage == domain.StageReserved || doc.Action == domain.ActionReserve {
		held = heldReservations(line, doc.IsEdit, material, st.reservations)
	}
	keys := domain.MergeGroupKeys(current, nil)
	for key := range held {
		if _, ok := currentByKey[key]; !ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	lr := &LineResult{LineNo: line.LineNo, MaterialID: material.ID, Status: LineApplied}
	totalCost, totalQty := decimal.Zero, decimal.Zero

	for _, key := range keys {
		h := held[key]
		g, ok := currentByKey[key]
		if !ok {
			g = domain.AllocationGroup{Key: key, LocationID: h.LocationID, BatchID: h.BatchID}
		}

		req := GroupRequest{
			Material: material,
			PlantID:  doc.PlantID,
			Stage:    doc.Stage,
			Group:    g,
			Required: g.BaseQuantity,
		}
		if h != nil {
			req.DocReserved = h.Total
			req.PreviousSerials = h.Serials
			req.PreviousOrder = h.SerialOrder
		}
		if material.IsSerialized {
			serials, qty := g.SerialQuantities()
			for _, sn := range serials {
				serialBase, _ := material.ToBase(qty[sn], line.UOM)
				req.Serials = append(req.Serials, domain.SerialStock{SerialNo: sn, Required: serialBase})
			}
		}
		if !req.Required.IsPositive() && !req.DocReserved.IsPositive() {
			continue
		}

		var entries []MovementEntry
		vkey := ValuationKeyFor(material, g.BatchID, doc.PlantID)

		if doc.Action == domain.ActionReserve {
			outcome, err := e.balances.ApplyReservation(ctx, uow, req)
			if err != nil {
				return lr, lineError(line, err)
			}
			quote := e.costs.Resolve(ctx, material, g.BatchID, doc.PlantID, decimal.Zero, st.consumption.Consumed(vkey))
			lr.Reserved = domain.RoundQty(lr.Reserved.Add(outcome.Reserved))
			lr.Released = domain.RoundQty(lr.Released.Add(outcome.Split.Released))
			lr.UnitCost = quote.UnitCost
			entries = []MovementEntry{
				{Direction: domain.DirectionOut, Category: domain.CategoryUnrestricted, BaseQty: outcome.Reserved, Serials: outcome.SerialReserved},
				{Direction: domain.DirectionIn, Category: domain.CategoryReserved, BaseQty: outcome.Reserved, Serials: outcome.SerialReserved},
				{Direction: domain.DirectionOut, Category: domain.CategoryReserved, BaseQty: outcome.Split.Released, Serials: outcome.SerialReleased},
				{Direction: domain.DirectionIn, Category: domain.CategoryUnrestricted, BaseQty: outcome.Split.Released, Serials: outcome.SerialReleased},
			}
			for i := range entries {
				entries[i].UnitCost = quote.UnitCost
			}
		} else {
			outcome, err := e.balances.ApplyDeduction(ctx, uow, req)
			if err != nil {
				return lr, lineError(line, err)
			}
			split := outcome.Split
			deducted := split.Total()

			quote := e.costs.Resolve(ctx, material, g.BatchID, doc.PlantID, deducted, st.consumption.Consumed(vkey))
			switch material.CostingMethod {
			case domain.CostingFIFO:
				st.consumption.Record(vkey, deducted)
			case domain.CostingWeightedAverage:
				if err := e.depleteWeightedAverage(ctx, uow, vkey, deducted); err != nil {
					return lr, err
				}
			}

			lr.FromReserved = domain.RoundQty(lr.FromReserved.Add(split.FromReserved))
			lr.FromUnrestricted = domain.RoundQty(lr.FromUnrestricted.Add(split.FromUnrestricted))
			lr.Released = domain.RoundQty(lr.Released.Add(split.Released))
			totalCost = totalCost.Add(deducted.Mul(quote.UnitCost))
			totalQty = totalQty.Add(deducted)

			entries = []MovementEntry{
				{Direction: domain.DirectionOut, Category: domain.CategoryReserved, BaseQty: split.FromReserved, UnitCost: quote.UnitCost, Serials: outcome.SerialFromReserved},
				{Direction: domain.DirectionOut, Category: domain.CategoryUnrestricted, BaseQty: split.FromUnrestricted, UnitCost: quote.UnitCost, Serials: outcome.SerialFromUnrestricted},
				{Direction: domain.DirectionOut, Category: domain.CategoryReserved, BaseQty: split.Released, UnitCost: quote.UnitCost, Serials: outcome.SerialReleased},
				{Direction: domain.DirectionIn, Category: domain.CategoryUnrestricted, BaseQty: split.Released, UnitCost: quote.UnitCost, Serials: outcome.SerialReleased},
			}

			if doc.Stage == domain.StageReserved && h != nil && len(h.Records) > 0 {
				var perSerial map[string]decimal.Decimal
				if material.IsSerialized {
					perSerial = make(map[string]decimal.Decimal)
					for _, s := range append(append([]SerialShare{}, outcome.SerialFromReserved...), outcome.SerialFromUnrestricted...) {
						perSerial[s.SerialNo] = domain.RoundQty(perSerial[s.SerialNo].Add(s.Qty))
					}
				}
				if err := e.reservations.Settle(ctx, uow, h.Records, deducted, perSerial); err != nil {
					return lr, err
				}
			}
		}

		for _, entry := range entries {
			entry.LocationID = g.LocationID
			entry.BatchID = g.BatchID
			m, err := e.movements.Record(ctx, uow, doc, material, line.UOM, entry)
			if err != nil {
				return lr, err
			}
			if m != nil {
				lr.MovementIDs = append(lr.MovementIDs, m.ID)
				st.movements = append(st.movements, *m)
			}
		}
	}

	if totalQty.IsPositive() {
		lr.UnitCost = totalCost.DivRound(totalQty, domain.PricePlaces)
	}
	return lr, nil
}

func lineError(line domain.LineItem, err error) error {
	var le *domain.LedgerError
	if errors.As(err, &le) && le.LineNo == "" {
		le.LineNo = line.LineNo
	}
	return err
}

// depleteWeightedAverage reduces the latest running average record by qty.
func (e *LedgerEngine) depleteWeightedAverage(ctx context.Context, uow *UnitOfWork, key domain.ValuationKey, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return nil
	}
	records, err := e.valuation.FindWeightedAverages(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to load weighted average for %s: %w", key, err)
	}
	latest, ok := domain.LatestWeightedAverage(records)
	if !ok {
		e.logger.WithContext(ctx).Warn("No weighted average record to deplete", "valuationKey", key.String())
		return nil
	}

	pre := latest
	next, clamped := domain.NonNegative(domain.RoundQty(latest.Quantity.Sub(qty)))
	if clamped {
		e.logger.WithContext(ctx).Warn("Clamped negative weighted average quantity",
			"valuationKey", key.String(),
			"quantity", latest.Quantity.String(),
			"deducted", qty.String(),
		)
		if e.metrics != nil {
			e.metrics.RecordNegativeClamp(storeWeightedAverage)
		}
	}
	latest.Quantity = next
	if err := e.valuation.SaveWeightedAverage(ctx, latest); err != nil {
		return fmt.Errorf("failed to save weighted average for %s: %w", key, err)
	}
	uow.RevertWeightedAverage(pre)
	return nil
}

// flushFIFO writes the accumulated layer consumption of the unit of work.
func (e *LedgerEngine) flushFIFO(ctx context.Context, uow *UnitOfWork, consumption *domain.ConsumptionLedger) error {
	for _, key := range consumption.Keys() {
		layers, err := e.valuation.FindLayers(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to load FIFO layers for %s: %w", key, err)
		}
		before := make(map[string]domain.FIFOLayer, len(layers))
		for _, l := range layers {
			before[l.ID] = l
		}
		for _, layer := range domain.DepleteFIFO(layers, consumption.Consumed(key)) {
			if err := e.valuation.SaveLayer(ctx, layer); err != nil {
				return fmt.Errorf("failed to save FIFO layer %s: %w", layer.ID, err)
			}
			uow.RevertLayer(before[layer.ID])
		}
	}
	return nil
}

func newChangeResult(doc domain.Document, lines []domain.LineItem) *ChangeResult {
	r := &ChangeResult{
		DocumentType: doc.DocumentType,
		DocumentNo:   doc.DocumentNo,
		Lines:        make([]LineResult, len(lines)),
	}
	r.reset()
	for i, line := range lines {
		r.Lines[i].LineNo = line.LineNo
		r.Lines[i].MaterialID = line.MaterialID
	}
	return r
}

func (r *ChangeResult) reset() {
	for i := range r.Lines {
		r.Lines[i] = LineResult{LineNo: r.Lines[i].LineNo, MaterialID: r.Lines[i].MaterialID}
	}
}

// fail marks line failedLine as failed, applied lines as rolled back and the
// rest as skipped.
func (r *ChangeResult) fail(failedLine int, err error) {
	r.Success = false
	r.Message = err.Error()
	for i := range r.Lines {
		switch {
		case i == failedLine:
			r.Lines[i].Status = LineFailed
			r.Lines[i].Message = err.Error()
		case r.Lines[i].Status == LineApplied:
			r.Lines[i].Status = LineRolledBack
		default:
			r.Lines[i].Status = LineSkipped
		}
		r.Lines[i].MovementIDs = nil
	}
}
