package application

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/wms-platform/ledger-engine/internal/domain"
	"github.com/wms-platform/ledger-engine/pkg/logging"
	"github.com/wms-platform/ledger-engine/pkg/metrics"
)

func TestCostResolver_Resolve(t *testing.T) {
	fifo := fifoMaterial("M-FIFO")
	batched := &domain.Material{ID: "M-B", CostingMethod: domain.CostingFIFO, IsBatchManaged: true}
	wa := &domain.Material{ID: "M-WA", CostingMethod: domain.CostingWeightedAverage}

	valuation := newFakeValuation()
	valuation.addLayer(domain.ValuationKey{MaterialID: "M-FIFO", PlantID: plant}, 1, "5", "2.00")
	valuation.addLayer(domain.ValuationKey{MaterialID: "M-FIFO", PlantID: plant}, 2, "10", "3.00")
	valuation.addLayer(domain.ValuationKey{MaterialID: "M-B", BatchID: "B1", PlantID: plant}, 1, "5", "9.00")

	now := time.Now()
	waKey := domain.ValuationKey{MaterialID: "M-WA", PlantID: plant}
	valuation.averages[waKey.String()] = []domain.WeightedAverage{
		{ID: "old", Key: waKey, CostPrice: dec("1.1"), CreatedAt: now.Add(-time.Hour)},
		{ID: "new", Key: waKey, CostPrice: dec("1.23456"), CreatedAt: now},
	}

	m := metrics.New(metrics.DefaultConfig("ledger-engine-test"))
	resolver := NewCostResolver(valuation, logging.NewNop(), m)
	ctx := context.Background()

	tests := []struct {
		name     string
		material *domain.Material
		batch    string
		qty      string
		prior    string
		want     string
		resolved bool
	}{
		{name: "fifo weighted", material: fifo, qty: "8", prior: "0", want: "2.375", resolved: true},
		{name: "fifo zero quantity prices first available layer", material: fifo, qty: "0", prior: "0", want: "2", resolved: true},
		{name: "fifo zero quantity after prior", material: fifo, qty: "0", prior: "5", want: "3", resolved: true},
		{name: "fifo shortfall priced at last layer", material: fifo, qty: "20", prior: "0", want: "2.75", resolved: true},
		{name: "batch scoped layers", material: batched, batch: "B1", qty: "1", prior: "0", want: "9", resolved: true},
		{name: "batch without layers falls back", material: batched, batch: "B2", qty: "1", prior: "0", want: "0"},
		{name: "weighted average latest", material: wa, qty: "1", prior: "0", want: "1.2346", resolved: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quote := resolver.Resolve(ctx, tt.material, tt.batch, plant, dec(tt.qty), dec(tt.prior))
			assertDecimal(t, tt.want, quote.UnitCost)
			assert.Equal(t, tt.resolved, quote.Resolved)
		})
	}

	assert.Equal(t, float64(1), testutil.ToFloat64(m.FIFOShortfalls.WithLabelValues("ledger-engine-test", "M-FIFO")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CostResolutionErrors.WithLabelValues("ledger-engine-test", string(domain.CostingFIFO))))
}

func TestCostResolver_LookupErrorResolvesZero(t *testing.T) {
	valuation := newFakeValuation()
	valuation.err = errStoreDown
	resolver := NewCostResolver(valuation, logging.NewNop(), nil)

	for _, material := range []*domain.Material{
		fifoMaterial("M-FIFO"),
		{ID: "M-WA", CostingMethod: domain.CostingWeightedAverage},
	} {
		quote := resolver.Resolve(context.Background(), material, "", plant, dec("3"), dec("0"))
		assertDecimal(t, "0", quote.UnitCost, material.ID)
		assert.False(t, quote.Resolved, material.ID)
	}
}
