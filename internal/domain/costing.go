package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ValuationKey scopes cost records: material, optional batch, plant.
type ValuationKey struct {
	MaterialID string
	BatchID    string
	PlantID    string
}

// String renders the key as material[-batch]@plant.
func (k ValuationKey) String() string {
	s := k.MaterialID
	if k.BatchID != "" {
		s += "-" + k.BatchID
	}
	return s + "@" + k.PlantID
}

// FIFOLayer is one receipt's remaining quantity at its cost.
type FIFOLayer struct {
	ID        string
	Key       ValuationKey
	Sequence  int64
	Available decimal.Decimal
	CostPrice decimal.Decimal
	CreatedAt time.Time
}

// WeightedAverage is a running average cost record.
type WeightedAverage struct {
	ID        string
	Key       ValuationKey
	Quantity  decimal.Decimal
	CostPrice decimal.Decimal
	CreatedAt time.Time
}

// LayerDraw is the quantity a quote takes from one layer.
type LayerDraw struct {
	LayerID   string
	Sequence  int64
	Quantity  decimal.Decimal
	CostPrice decimal.Decimal
}

// FIFOQuote is the outcome of pricing a deduction against FIFO layers.
type FIFOQuote struct {
	UnitCost decimal.Decimal
	Draws    []LayerDraw
	// Shortfall is the quantity priced at the last layer's cost because the
	// layers could not cover it.
	Shortfall decimal.Decimal
	// PriorUnabsorbed is prior consumption the layers could not absorb.
	PriorUnabsorbed decimal.Decimal
}

// SortLayers returns a copy of layers in ascending sequence.
func SortLayers(layers []FIFOLayer) []FIFOLayer {
	sorted := make([]FIFOLayer, len(layers))
	copy(sorted, layers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Sequence < sorted[j].Sequence
	})
	return sorted
}

// absorb consumes qty oldest-first from the available quantities and returns
// what could not be absorbed.
func absorb(available []decimal.Decimal, qty decimal.Decimal) decimal.Decimal {
	remaining := qty
	for i := range available {
		if !remaining.IsPositive() {
			break
		}
		take := MinDecimal(available[i], remaining)
		if !take.IsPositive() {
			continue
		}
		available[i] = RoundQty(available[i].Sub(take))
		remaining = RoundQty(remaining.Sub(take))
	}
	return remaining
}

// QuoteFIFO prices deduction against layers after prior consumption in the
// same unit of work has been taken out. A zero deduction quotes the first
// layer that still has stock, or the newest layer when all are empty.
func QuoteFIFO(layers []FIFOLayer, deduction, prior decimal.Decimal) (FIFOQuote, error) {
	if len(layers) == 0 {
		return FIFOQuote{}, ErrNoCostLayers
	}
	sorted := SortLayers(layers)

	available := make([]decimal.Decimal, len(sorted))
	for i, layer := range sorted {
		available[i] = layer.Available
	}

	quote := FIFOQuote{}
	if prior.IsPositive() {
		quote.PriorUnabsorbed = absorb(available, prior)
	}

	last := sorted[len(sorted)-1]
	if !deduction.IsPositive() {
		for i, layer := range sorted {
			if available[i].IsPositive() {
				quote.UnitCost = RoundPrice(layer.CostPrice)
				return quote, nil
			}
		}
		quote.UnitCost = RoundPrice(last.CostPrice)
		return quote, nil
	}

	cost := decimal.Zero
	qty := decimal.Zero
	remaining := RoundQty(deduction)
	for i, layer := range sorted {
		if !remaining.IsPositive() {
			break
		}
		if !available[i].IsPositive() {
			continue
		}
		take := MinDecimal(available[i], remaining)
		cost = RoundPrice(cost.Add(RoundPrice(take.Mul(layer.CostPrice))))
		qty = RoundQty(qty.Add(take))
		remaining = RoundQty(remaining.Sub(take))
		quote.Draws = append(quote.Draws, LayerDraw{
			LayerID:   layer.ID,
			Sequence:  layer.Sequence,
			Quantity:  take,
			CostPrice: layer.CostPrice,
		})
	}

	if remaining.IsPositive() {
		cost = RoundPrice(cost.Add(RoundPrice(remaining.Mul(last.CostPrice))))
		qty = RoundQty(qty.Add(remaining))
		quote.Shortfall = remaining
	}

	quote.UnitCost = cost.DivRound(qty, PricePlaces)
	return quote, nil
}

// DepleteFIFO applies a total consumption to layers oldest-first and returns
// only the layers whose available quantity changed, with their new values.
// Available quantities stop at zero.
func DepleteFIFO(layers []FIFOLayer, consumed decimal.Decimal) []FIFOLayer {
	sorted := SortLayers(layers)
	available := make([]decimal.Decimal, len(sorted))
	for i, layer := range sorted {
		available[i] = layer.Available
	}
	absorb(available, consumed)

	var changed []FIFOLayer
	for i, layer := range sorted {
		if available[i].Equal(layer.Available) {
			continue
		}
		layer.Available = available[i]
		changed = append(changed, layer)
	}
	return changed
}

// LatestWeightedAverage returns the record with the newest CreatedAt.
func LatestWeightedAverage(records []WeightedAverage) (WeightedAverage, bool) {
	if len(records) == 0 {
		return WeightedAverage{}, false
	}
	latest := records[0]
	for _, r := range records[1:] {
		if r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	return latest, true
}

// ConsumptionLedger accumulates FIFO quantity drawn within one unit of work
// before the layers are written back.
type ConsumptionLedger struct {
	consumed map[string]decimal.Decimal
	keys     []ValuationKey
}

// NewConsumptionLedger returns an empty ledger.
func NewConsumptionLedger() *ConsumptionLedger {
	return &ConsumptionLedger{consumed: make(map[string]decimal.Decimal)}
}

// Consumed returns the quantity drawn so far for key.
func (l *ConsumptionLedger) Consumed(key ValuationKey) decimal.Decimal {
	return l.consumed[key.String()]
}

// Record adds qty to the running total for key.
func (l *ConsumptionLedger) Record(key ValuationKey, qty decimal.Decimal) {
	if !qty.IsPositive() {
		return
	}
	k := key.String()
	current, ok := l.consumed[k]
	if !ok {
		l.keys = append(l.keys, key)
	}
	l.consumed[k] = RoundQty(current.Add(qty))
}

// Keys returns every key with consumption, in first-recorded order.
func (l *ConsumptionLedger) Keys() []ValuationKey {
	out := make([]ValuationKey, len(l.keys))
	copy(out, l.keys)
	return out
}
