package activities

import (
	"context"
	"errors"
	"testing"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/wms-platform/ledger-engine/internal/application"
	"github.com/wms-platform/ledger-engine/internal/domain"
	"github.com/wms-platform/ledger-engine/pkg/logging"
	"github.com/wms-platform/ledger-engine/pkg/metrics"
)

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) ApplyInventoryChange(ctx context.Context, cmd application.ApplyChangeCommand) (*application.ChangeResult, error) {
	args := m.Called(ctx, cmd)
	result, _ := args.Get(0).(*application.ChangeResult)
	return result, args.Error(1)
}

func (m *mockLedger) ReconcileReservations(ctx context.Context, cmd application.ReconcileCommand) (*application.ReconcileResult, error) {
	args := m.Called(ctx, cmd)
	result, _ := args.Get(0).(*application.ReconcileResult)
	return result, args.Error(1)
}

func (m *mockLedger) FulfillReservations(ctx context.Context, cmd application.FulfillCommand) (*application.FulfillResult, error) {
	args := m.Called(ctx, cmd)
	result, _ := args.Get(0).(*application.FulfillResult)
	return result, args.Error(1)
}

func (m *mockLedger) ResolveCost(ctx context.Context, q application.CostQuery) (*application.CostQuote, error) {
	args := m.Called(ctx, q)
	quote, _ := args.Get(0).(*application.CostQuote)
	return quote, args.Error(1)
}

func newEnv(t *testing.T) (*testsuite.TestActivityEnvironment, *mockLedger) {
	t.Helper()
	return newEnvWithMetrics(t, nil)
}

func newEnvWithMetrics(t *testing.T, m *metrics.Metrics) (*testsuite.TestActivityEnvironment, *mockLedger) {
	t.Helper()
	ledger := &mockLedger{}
	acts := NewLedgerActivities(ledger, logging.NewNop(), m)

	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	env.RegisterActivity(acts)
	t.Cleanup(func() { ledger.AssertExpectations(t) })
	return env, ledger
}

func changeCommand() application.ApplyChangeCommand {
	return application.ApplyChangeCommand{
		Document: domain.Document{
			DocumentType: "GD", DocumentNo: "GD-1", PlantID: "P1",
			Stage: domain.StageCompleted, Action: domain.ActionDeduct,
		},
		Lines: []domain.LineItem{{
			LineNo: "1", MaterialID: "M-1", UOM: "EA",
			Allocations: []domain.Allocation{{LocationID: "L1", Quantity: decimal.NewFromInt(3)}},
		}},
	}
}

func forDocument(documentNo string) interface{} {
	return mock.MatchedBy(func(cmd application.ApplyChangeCommand) bool {
		return cmd.Document.DocumentNo == documentNo
	})
}

func TestApplyInventoryChangeActivity(t *testing.T) {
	env, ledger := newEnv(t)
	ledger.On("ApplyInventoryChange", mock.Anything, forDocument("GD-1")).
		Return(&application.ChangeResult{Success: true, DocumentNo: "GD-1", Message: "applied"}, nil)

	val, err := env.ExecuteActivity("ApplyInventoryChange", changeCommand())
	require.NoError(t, err)

	var result application.ChangeResult
	require.NoError(t, val.Get(&result))
	assert.True(t, result.Success)
	assert.Equal(t, "GD-1", result.DocumentNo)
}

func TestApplyInventoryChangeActivity_ErrorClassification(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		nonRetryable bool
		errType      string
	}{
		{
			name:         "business rule",
			err:          domain.NewLedgerError(domain.KindInsufficientUnrestricted, "Insufficient unrestricted quantity for M-1"),
			nonRetryable: true,
			errType:      string(domain.KindInsufficientUnrestricted),
		},
		{
			name:         "compensation failure",
			err:          &domain.CompensationError{Cause: errors.New("store down")},
			nonRetryable: true,
			errType:      string(domain.KindCompensationFailure),
		},
		{name: "infrastructure", err: errors.New("connection reset")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, ledger := newEnv(t)
			ledger.On("ApplyInventoryChange", mock.Anything, mock.Anything).
				Return(&application.ChangeResult{Success: false}, tt.err)

			_, err := env.ExecuteActivity("ApplyInventoryChange", changeCommand())
			require.Error(t, err)

			var appErr *temporal.ApplicationError
			if !tt.nonRetryable {
				if errors.As(err, &appErr) {
					assert.False(t, appErr.NonRetryable())
				}
				return
			}
			require.True(t, errors.As(err, &appErr))
			assert.True(t, appErr.NonRetryable())
			assert.Equal(t, tt.errType, appErr.Type())
		})
	}
}

func TestReconcileReservationsActivity(t *testing.T) {
	env, ledger := newEnv(t)
	ledger.On("ReconcileReservations", mock.Anything, mock.MatchedBy(func(cmd application.ReconcileCommand) bool {
		return cmd.DocumentNo == "GD-1"
	})).Return(&application.ReconcileResult{DocumentNo: "GD-1", Created: 2, Cancelled: 1}, nil)

	val, err := env.ExecuteActivity("ReconcileReservations", application.ReconcileCommand{DocumentType: "GD", DocumentNo: "GD-1", PlantID: "P1"})
	require.NoError(t, err)

	var result application.ReconcileResult
	require.NoError(t, val.Get(&result))
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 1, result.Cancelled)
}

func TestFulfillReservationsActivity(t *testing.T) {
	env, ledger := newEnv(t)
	ledger.On("FulfillReservations", mock.Anything, mock.Anything).
		Return(&application.FulfillResult{Updated: 1, Fulfilled: 1}, nil)

	val, err := env.ExecuteActivity("FulfillReservations", application.FulfillCommand{DocumentType: "GD", DocumentNo: "GD-1"})
	require.NoError(t, err)

	var result application.FulfillResult
	require.NoError(t, val.Get(&result))
	assert.Equal(t, 1, result.Fulfilled)
}

func TestResolveCostActivity(t *testing.T) {
	env, ledger := newEnv(t)
	ledger.On("ResolveCost", mock.Anything, mock.MatchedBy(func(q application.CostQuery) bool {
		return q.MaterialID == "M-1"
	})).Return(&application.CostQuote{MaterialID: "M-1", CostingMethod: domain.CostingFIFO, UnitCost: decimal.RequireFromString("2.375"), Resolved: true}, nil)

	val, err := env.ExecuteActivity("ResolveCost", application.CostQuery{MaterialID: "M-1", PlantID: "P1", Quantity: decimal.NewFromInt(8)})
	require.NoError(t, err)

	var quote application.CostQuote
	require.NoError(t, val.Get(&quote))
	assert.True(t, quote.Resolved)
	assert.Equal(t, "2.375", quote.UnitCost.String())
}

func TestActivities_RecordCompletionMetrics(t *testing.T) {
	m := metrics.New(metrics.DefaultConfig("ledger-test"))
	env, ledger := newEnvWithMetrics(t, m)
	ledger.On("ResolveCost", mock.Anything, mock.Anything).
		Return(nil, domain.NewLedgerError(domain.KindItemNotFound, "Item M-9 not found"))

	_, err := env.ExecuteActivity("ResolveCost", application.CostQuery{MaterialID: "M-9"})
	require.Error(t, err)

	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.ActivitiesCompleted.WithLabelValues("ledger-test", "ResolveCost", "error")))
	assert.Zero(t, promtestutil.ToFloat64(m.ActivitiesCompleted.WithLabelValues("ledger-test", "ResolveCost", "success")))
}

func TestActivityOptions_DoNotRetryBusinessErrors(t *testing.T) {
	opts := ActivityOptions()

	assert.Equal(t, "ledger-engine-queue", opts.TaskQueue)
	require.NotNil(t, opts.RetryPolicy)
	assert.ElementsMatch(t, NonRetryableErrorTypes, opts.RetryPolicy.NonRetryableErrorTypes)
	assert.Contains(t, opts.RetryPolicy.NonRetryableErrorTypes, string(domain.KindInsufficientReserved))
}
