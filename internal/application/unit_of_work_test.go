package application

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wms-platform/ledger-engine/internal/domain"
)

type orderedMovements struct {
	fakeMovements
	log *[]string
}

func (o *orderedMovements) SoftDelete(ctx context.Context, id string) error {
	*o.log = append(*o.log, "movement:"+id)
	return o.fakeMovements.SoftDelete(ctx, id)
}

type orderedBalances struct {
	*fakeBalances
	log *[]string
}

func (o *orderedBalances) Revert(ctx context.Context, pre domain.BalanceRecord) error {
	*o.log = append(*o.log, "balance:"+pre.ID+"="+pre.Unrestricted.String())
	return o.fakeBalances.Revert(ctx, pre)
}

func TestUnitOfWork_RollbackOrder(t *testing.T) {
	var log []string
	te := newTestEngine(t)
	uow := newUnitOfWork(te.LedgerEngine)
	uow.balances = &orderedBalances{fakeBalances: te.balances, log: &log}
	uow.movements = &orderedMovements{log: &log}

	id := te.balances.put(aggregateKey("M-A"), "100", "20")
	first := te.balances.records[id]
	uow.RevertBalance(first)
	uow.SoftDeleteMovement("mv-1")

	second := first
	second.Unrestricted = dec("70")
	uow.RevertBalance(second)
	uow.SoftDeleteMovement("mv-2")

	require.Equal(t, 4, uow.Len())
	require.NoError(t, uow.Rollback(context.Background(), errors.New("boom")))

	assert.Equal(t, []string{
		"balance:" + id + "=70",
		"balance:" + id + "=100",
		"movement:mv-2",
		"movement:mv-1",
	}, log)
	assertDecimal(t, "100", te.balances.records[id].Unrestricted)
}

func TestUnitOfWork_RollbackRetriesThenEscalates(t *testing.T) {
	te := newTestEngine(t)
	te.balances.revertErr = errStoreDown
	uow := newUnitOfWork(te.LedgerEngine)

	id := te.balances.put(aggregateKey("M-A"), "1", "0")
	uow.RevertBalance(te.balances.records[id])
	uow.RevertReservation(domain.Reservation{ID: "missing"})

	cause := errors.New("boom")
	err := uow.Rollback(context.Background(), cause)
	require.Error(t, err)

	var compErr *domain.CompensationError
	require.ErrorAs(t, err, &compErr)
	assert.Len(t, compErr.Failures, 2)
	assert.Zero(t, compErr.Applied)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 2, te.balances.reverts)
}

func TestUnitOfWork_RollbackIgnoresCancelledContext(t *testing.T) {
	te := newTestEngine(t)
	uow := newUnitOfWork(te.LedgerEngine)
	id := te.balances.put(aggregateKey("M-A"), "5", "0")
	uow.RevertBalance(te.balances.records[id])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, uow.Rollback(ctx, errors.New("boom")))
}
