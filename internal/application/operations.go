package application

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wms-platform/ledger-engine/internal/domain"
	"github.com/wms-platform/ledger-engine/pkg/tracing"
)

// ResolveCost quotes a unit cost without changing anything.
func (e *LedgerEngine) ResolveCost(ctx context.Context, q CostQuery) (*CostQuote, error) {
	if q.MaterialID == "" || q.PlantID == "" {
		return nil, domain.NewLedgerError(domain.KindInvalidInput, "materialId and plantId are required")
	}
	if q.Quantity.IsNegative() || q.PriorConsumed.IsNegative() {
		return nil, domain.NewLedgerError(domain.KindInvalidInput, "quantities must not be negative")
	}
	material, err := e.loadMaterial(ctx, q.MaterialID)
	if err != nil {
		return nil, err
	}
	quote := e.costs.Resolve(ctx, material, q.BatchID, q.PlantID, domain.RoundQty(q.Quantity), domain.RoundQty(q.PriorConsumed))
	return &quote, nil
}

// ApplyBulk applies documents one after another. A failed document does not
// stop the ones after it.
func (e *LedgerEngine) ApplyBulk(ctx context.Context, cmds []ApplyChangeCommand) *BulkResult {
	result := &BulkResult{Items: make([]BulkItem, 0, len(cmds))}
	for _, cmd := range cmds {
		if ctx.Err() != nil {
			result.Items = append(result.Items, BulkItem{
				DocumentNo: cmd.Document.DocumentNo,
				Error:      ctx.Err().Error(),
			})
			result.Failed++
			continue
		}

		res, err := e.ApplyInventoryChange(ctx, cmd)
		item := BulkItem{DocumentNo: cmd.Document.DocumentNo, Result: res}
		if err != nil {
			item.Error = err.Error()
			item.ErrorKind = string(domain.KindOf(err))
			result.Failed++
		} else {
			result.Succeeded++
		}
		result.Items = append(result.Items, item)
	}
	return result
}

// ReconcileReservations rewrites a document's reservation records to match
// its lines without moving stock.
func (e *LedgerEngine) ReconcileReservations(ctx context.Context, cmd ReconcileCommand) (*ReconcileResult, error) {
	ctx, span := e.tracer.Start(ctx, "ledger.ReconcileReservations",
		trace.WithAttributes(tracing.DocumentAttributes(cmd.DocumentType, cmd.DocumentNo, "")...),
	)
	defer span.End()

	if cmd.DocumentType == "" || cmd.DocumentNo == "" || cmd.PlantID == "" {
		err := domain.NewLedgerError(domain.KindInvalidInput, "documentType, documentNo and plantId are required")
		tracing.RecordOutcome(span, err)
		return nil, err
	}
	lines := normalizeLines(cmd.Lines)
	for _, line := range lines {
		if err := domain.ValidateLine(line); err != nil {
			tracing.RecordOutcome(span, err)
			return nil, err
		}
	}
	materials, _, err := e.loadMaterials(ctx, lines)
	if err != nil {
		tracing.RecordOutcome(span, err)
		return nil, err
	}

	result := &ReconcileResult{DocumentType: cmd.DocumentType, DocumentNo: cmd.DocumentNo}
	_, err = e.execute(ctx, func(ctx context.Context, uow *UnitOfWork) error {
		existing, err := e.reservations.Load(ctx, cmd.DocumentType, cmd.DocumentNo)
		if err != nil {
			return err
		}
		targets := Targets(cmd.DocumentType, cmd.DocumentNo, cmd.PlantID, lines, materials)
		plan, err := e.reservations.Reconcile(ctx, uow, existing, targets)
		if err != nil {
			return err
		}
		result.Created, result.Updated, result.Cancelled = len(plan.Create), len(plan.Update), len(plan.Cancel)
		if plan.IsEmpty() {
			return nil
		}
		return e.publish(ctx, &domain.ReservationsReconciled{
			DocumentType: cmd.DocumentType,
			DocumentNo:   cmd.DocumentNo,
			Created:      result.Created,
			Updated:      result.Updated,
			Cancelled:    result.Cancelled,
			At:           e.now(),
		})
	})
	tracing.RecordOutcome(span, err)
	if err != nil {
		e.logger.WithContext(ctx).WithDocument(cmd.DocumentType, cmd.DocumentNo).WithError(err).Warn("Reservation reconciliation failed")
		return nil, err
	}
	return result, nil
}

// FulfillReservations books delivered quantities against open reservations.
func (e *LedgerEngine) FulfillReservations(ctx context.Context, cmd FulfillCommand) (*FulfillResult, error) {
	ctx, span := e.tracer.Start(ctx, "ledger.FulfillReservations",
		trace.WithAttributes(tracing.DocumentAttributes(cmd.DocumentType, cmd.DocumentNo, "")...),
		trace.WithAttributes(attribute.Int("ledger.deliveries", len(cmd.Deliveries))),
	)
	defer span.End()

	if cmd.DocumentType == "" || cmd.DocumentNo == "" {
		err := domain.NewLedgerError(domain.KindInvalidInput, "documentType and documentNo are required")
		tracing.RecordOutcome(span, err)
		return nil, err
	}
	for _, d := range cmd.Deliveries {
		if !d.Quantity.IsPositive() {
			err := domain.NewLedgerError(domain.KindInvalidInput, "delivery quantity must be positive on line %s", d.LineNo)
			tracing.RecordOutcome(span, err)
			return nil, err
		}
	}

	var result *FulfillResult
	_, err := e.execute(ctx, func(ctx context.Context, uow *UnitOfWork) error {
		existing, err := e.reservations.Load(ctx, cmd.DocumentType, cmd.DocumentNo)
		if err != nil {
			return err
		}
		result, err = e.reservations.Fulfill(ctx, uow, cmd.DocumentType, cmd.DocumentNo, existing, cmd.Deliveries)
		return err
	})
	tracing.RecordOutcome(span, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListMovements returns the live movements of a transaction or reference
// number with their serial children.
func (e *LedgerEngine) ListMovements(ctx context.Context, q domain.MovementQuery) ([]MovementView, error) {
	if q.TransactionNo == "" && q.ReferenceNo == "" {
		return nil, domain.NewLedgerError(domain.KindInvalidInput, "transactionNo or referenceNo is required")
	}

	movements, err := e.movementStore.Find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list movements: %w", err)
	}
	if len(movements) == 0 {
		return []MovementView{}, nil
	}

	ids := make([]string, 0, len(movements))
	for _, m := range movements {
		ids = append(ids, m.ID)
	}
	serials, err := e.movementStore.FindSerials(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list serial movements: %w", err)
	}
	byParent := make(map[string][]domain.SerialMovement)
	for _, s := range serials {
		if s.IsDeleted && !q.IncludeDeleted {
			continue
		}
		byParent[s.MovementID] = append(byParent[s.MovementID], s)
	}

	views := make([]MovementView, 0, len(movements))
	for _, m := range movements {
		views = append(views, MovementView{Movement: m, Serials: byParent[m.ID]})
	}
	return views, nil
}
