package activities

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/wms-platform/ledger-engine/internal/application"
	"github.com/wms-platform/ledger-engine/internal/domain"
	"github.com/wms-platform/ledger-engine/pkg/logging"
	"github.com/wms-platform/ledger-engine/pkg/metrics"
	pkgtemporal "github.com/wms-platform/ledger-engine/pkg/temporal"
)

// Ledger is the part of the engine workflows drive.
type Ledger interface {
	ApplyInventoryChange(ctx context.Context, cmd application.ApplyChangeCommand) (*application.ChangeResult, error)
	ReconcileReservations(ctx context.Context, cmd application.ReconcileCommand) (*application.ReconcileResult, error)
	FulfillReservations(ctx context.Context, cmd application.FulfillCommand) (*application.FulfillResult, error)
	ResolveCost(ctx context.Context, q application.CostQuery) (*application.CostQuote, error)
}

// NonRetryableErrorTypes lists the application error types workflows should
// not retry: every business rule violation plus compensation failures, which
// need an operator.
var NonRetryableErrorTypes = []string{
	string(domain.KindItemNotFound),
	string(domain.KindBalanceRecordMissing),
	string(domain.KindInsufficientUnrestricted),
	string(domain.KindInsufficientReserved),
	string(domain.KindFIFOShortfall),
	string(domain.KindSerialBalanceMissing),
	string(domain.KindCompensationFailure),
	string(domain.KindInvalidInput),
}

// ActivityOptions is what workflows pass to workflow.WithActivityOptions
// before calling ledger activities.
func ActivityOptions() workflow.ActivityOptions {
	return pkgtemporal.DefaultActivityOptions(NonRetryableErrorTypes...)
}

// LedgerActivities exposes ledger operations to Temporal workflows
type LedgerActivities struct {
	ledger  Ledger
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewLedgerActivities creates the activity set. m may be nil.
func NewLedgerActivities(ledger Ledger, logger *logging.Logger, m *metrics.Metrics) *LedgerActivities {
	return &LedgerActivities{ledger: ledger, logger: logger.WithComponent("activities"), metrics: m}
}

// classify marks ledger rule violations non-retryable. Anything else is left
// to the workflow's retry policy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	kind := domain.KindOf(err)
	if kind == "" {
		return err
	}
	return temporal.NewNonRetryableApplicationError(err.Error(), string(kind), err)
}

func (a *LedgerActivities) start(ctx context.Context, name string, fields map[string]any) func(error) {
	info := activity.GetInfo(ctx)
	fields["workflowId"] = info.WorkflowExecution.ID
	fields["attempt"] = info.Attempt
	logger := a.logger.WithFields(fields)
	logger.ActivityStart(ctx, name)
	started := time.Now()
	return func(err error) {
		duration := time.Since(started)
		if err != nil {
			logger = logger.WithError(err)
		}
		logger.ActivityComplete(ctx, name, duration, err == nil)
		if a.metrics != nil {
			a.metrics.RecordActivityCompleted(name, err == nil, duration)
		}
	}
}

// ApplyInventoryChange applies one document change. A business failure
// still returns the result so the workflow can read the line outcomes.
func (a *LedgerActivities) ApplyInventoryChange(ctx context.Context, cmd application.ApplyChangeCommand) (*application.ChangeResult, error) {
	done := a.start(ctx, "ApplyInventoryChange", map[string]any{
		"documentType": cmd.Document.DocumentType,
		"documentNo":   cmd.Document.DocumentNo,
	})
	result, err := a.ledger.ApplyInventoryChange(ctx, cmd)
	done(err)
	return result, classify(err)
}

func (a *LedgerActivities) ReconcileReservations(ctx context.Context, cmd application.ReconcileCommand) (*application.ReconcileResult, error) {
	done := a.start(ctx, "ReconcileReservations", map[string]any{
		"documentType": cmd.DocumentType,
		"documentNo":   cmd.DocumentNo,
	})
	result, err := a.ledger.ReconcileReservations(ctx, cmd)
	done(err)
	return result, classify(err)
}

func (a *LedgerActivities) FulfillReservations(ctx context.Context, cmd application.FulfillCommand) (*application.FulfillResult, error) {
	done := a.start(ctx, "FulfillReservations", map[string]any{
		"documentType": cmd.DocumentType,
		"documentNo":   cmd.DocumentNo,
	})
	result, err := a.ledger.FulfillReservations(ctx, cmd)
	done(err)
	return result, classify(err)
}

func (a *LedgerActivities) ResolveCost(ctx context.Context, q application.CostQuery) (*application.CostQuote, error) {
	done := a.start(ctx, "ResolveCost", map[string]any{"materialId": q.MaterialID})
	quote, err := a.ledger.ResolveCost(ctx, q)
	done(err)
	return quote, classify(err)
}
