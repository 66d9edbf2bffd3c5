package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, expected string, actual decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Truef(t, dec(expected).Equal(actual), "expected %s, got %s %v", expected, actual, msgAndArgs)
}

func testLayers() []FIFOLayer {
	key := ValuationKey{MaterialID: "MAT-1", PlantID: "P1"}
	// deliberately out of order
	return []FIFOLayer{
		{ID: "L2", Key: key, Sequence: 2, Available: dec("10"), CostPrice: dec("3.00")},
		{ID: "L1", Key: key, Sequence: 1, Available: dec("5"), CostPrice: dec("2.00")},
	}
}

func TestQuoteFIFO(t *testing.T) {
	tests := []struct {
		name          string
		deduction     string
		prior         string
		wantUnitCost  string
		wantShortfall string
		wantDraws     []string
	}{
		{name: "spans two layers", deduction: "8", prior: "0", wantUnitCost: "2.375", wantShortfall: "0", wantDraws: []string{"L1:5", "L2:3"}},
		{name: "inside first layer", deduction: "4", prior: "0", wantUnitCost: "2", wantShortfall: "0", wantDraws: []string{"L1:4"}},
		{name: "prior consumption skips first layer", deduction: "2", prior: "5", wantUnitCost: "3", wantShortfall: "0", wantDraws: []string{"L2:2"}},
		{name: "prior consumption partially absorbs first layer", deduction: "4", prior: "3", wantUnitCost: "2.5", wantShortfall: "0", wantDraws: []string{"L1:2", "L2:2"}},
		{name: "shortfall priced at last layer", deduction: "20", prior: "0", wantUnitCost: "2.75", wantShortfall: "5", wantDraws: []string{"L1:5", "L2:10"}},
		{name: "zero deduction quotes first available layer", deduction: "0", prior: "0", wantUnitCost: "2", wantShortfall: "0"},
		{name: "zero deduction after first layer used", deduction: "0", prior: "5", wantUnitCost: "3", wantShortfall: "0"},
		{name: "zero deduction with all layers used", deduction: "0", prior: "15", wantUnitCost: "3", wantShortfall: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quote, err := QuoteFIFO(testLayers(), dec(tt.deduction), dec(tt.prior))
			require.NoError(t, err)

			assertDecimal(t, tt.wantUnitCost, quote.UnitCost)
			assertDecimal(t, tt.wantShortfall, quote.Shortfall)

			var draws []string
			for _, d := range quote.Draws {
				draws = append(draws, d.LayerID+":"+d.Quantity.String())
			}
			assert.Equal(t, tt.wantDraws, draws)
		})
	}
}

func TestQuoteFIFO_UnitCostIsWeightedByDraws(t *testing.T) {
	quote, err := QuoteFIFO(testLayers(), dec("8"), decimal.Zero)
	require.NoError(t, err)

	total := decimal.Zero
	for _, d := range quote.Draws {
		total = total.Add(d.Quantity.Mul(d.CostPrice))
	}
	assertDecimal(t, "2.375", total.DivRound(dec("8"), PricePlaces))
	assert.Equal(t, "2.3750", quote.UnitCost.StringFixed(PricePlaces))
}

func TestQuoteFIFO_RoundsToFourPlaces(t *testing.T) {
	key := ValuationKey{MaterialID: "MAT-1", PlantID: "P1"}
	layers := []FIFOLayer{
		{ID: "L1", Key: key, Sequence: 1, Available: dec("1"), CostPrice: dec("1")},
		{ID: "L2", Key: key, Sequence: 2, Available: dec("2"), CostPrice: dec("2")},
	}

	quote, err := QuoteFIFO(layers, dec("3"), decimal.Zero)
	require.NoError(t, err)
	assertDecimal(t, "1.6667", quote.UnitCost)
}

func TestQuoteFIFO_PriorBeyondLayers(t *testing.T) {
	quote, err := QuoteFIFO(testLayers(), dec("1"), dec("17"))
	require.NoError(t, err)

	assertDecimal(t, "2", quote.PriorUnabsorbed)
	assertDecimal(t, "1", quote.Shortfall)
	assertDecimal(t, "3", quote.UnitCost)
}

func TestQuoteFIFO_NoLayers(t *testing.T) {
	_, err := QuoteFIFO(nil, dec("1"), decimal.Zero)
	assert.ErrorIs(t, err, ErrNoCostLayers)
}

func TestDepleteFIFO(t *testing.T) {
	changed := DepleteFIFO(testLayers(), dec("8"))
	require.Len(t, changed, 2)

	assert.Equal(t, "L1", changed[0].ID)
	assertDecimal(t, "0", changed[0].Available)
	assert.Equal(t, "L2", changed[1].ID)
	assertDecimal(t, "7", changed[1].Available)
}

func TestDepleteFIFO_NeverNegative(t *testing.T) {
	changed := DepleteFIFO(testLayers(), dec("40"))
	require.Len(t, changed, 2)
	for _, layer := range changed {
		assertDecimal(t, "0", layer.Available, layer.ID)
	}
}

func TestDepleteFIFO_UntouchedLayersOmitted(t *testing.T) {
	changed := DepleteFIFO(testLayers(), dec("2"))
	require.Len(t, changed, 1)
	assert.Equal(t, "L1", changed[0].ID)
	assertDecimal(t, "3", changed[0].Available)
}

func TestLatestWeightedAverage(t *testing.T) {
	now := time.Now()
	records := []WeightedAverage{
		{ID: "old", CostPrice: dec("1.5"), CreatedAt: now.Add(-time.Hour)},
		{ID: "new", CostPrice: dec("1.75"), CreatedAt: now},
		{ID: "older", CostPrice: dec("1.2"), CreatedAt: now.Add(-2 * time.Hour)},
	}

	latest, ok := LatestWeightedAverage(records)
	require.True(t, ok)
	assert.Equal(t, "new", latest.ID)

	_, ok = LatestWeightedAverage(nil)
	assert.False(t, ok)
}

func TestConsumptionLedger(t *testing.T) {
	ledger := NewConsumptionLedger()
	a := ValuationKey{MaterialID: "MAT-1", PlantID: "P1"}
	b := ValuationKey{MaterialID: "MAT-1", BatchID: "B1", PlantID: "P1"}

	ledger.Record(a, dec("3"))
	ledger.Record(b, dec("1"))
	ledger.Record(a, dec("2.5"))
	ledger.Record(a, dec("0"))

	assertDecimal(t, "5.5", ledger.Consumed(a))
	assertDecimal(t, "1", ledger.Consumed(b))
	assertDecimal(t, "0", ledger.Consumed(ValuationKey{MaterialID: "MAT-2", PlantID: "P1"}))
	assert.Equal(t, []ValuationKey{a, b}, ledger.Keys())
	assert.Equal(t, "MAT-1-B1@P1", b.String())
}
