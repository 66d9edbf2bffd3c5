package application

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/wms-platform/ledger-engine/internal/domain"
	"github.com/wms-platform/ledger-engine/pkg/logging"
	"github.com/wms-platform/ledger-engine/pkg/metrics"
)

// CostResolver prices quantities under a material's costing method. It never
// fails: lookup errors and missing records resolve to zero with a warning.
type CostResolver struct {
	valuation domain.ValuationStore
	logger    *logging.Logger
	metrics   *metrics.Metrics
}

// NewCostResolver creates a CostResolver. m may be nil.
func NewCostResolver(valuation domain.ValuationStore, logger *logging.Logger, m *metrics.Metrics) *CostResolver {
	return &CostResolver{
		valuation: valuation,
		logger:    logger.WithComponent("cost-resolver"),
		metrics:   m,
	}
}

// ValuationKeyFor scopes valuation records; the batch only counts for
// batch-managed materials.
func ValuationKeyFor(material *domain.Material, batchID, plantID string) domain.ValuationKey {
	key := domain.ValuationKey{MaterialID: material.ID, PlantID: plantID}
	if material.IsBatchManaged {
		key.BatchID = batchID
	}
	return key
}

// Resolve returns the unit cost of deducting qty after prior has already
// been drawn in the current unit of work.
func (r *CostResolver) Resolve(ctx context.Context, material *domain.Material, batchID, plantID string, qty, prior decimal.Decimal) CostQuote {
	key := ValuationKeyFor(material, batchID, plantID)
	quote := CostQuote{MaterialID: material.ID, CostingMethod: material.CostingMethod, UnitCost: decimal.Zero}

	switch material.CostingMethod {
	case domain.CostingFIFO:
		layers, err := r.valuation.FindLayers(ctx, key)
		if err != nil {
			r.fallback(ctx, material, key, err)
			return quote
		}
		fifo, err := domain.QuoteFIFO(layers, qty, prior)
		if err != nil {
			r.fallback(ctx, material, key, err)
			return quote
		}
		if fifo.PriorUnabsorbed.IsPositive() {
			r.logger.WithContext(ctx).Warn("Prior consumption exceeds FIFO layers",
				"valuationKey", key.String(),
				"unabsorbed", fifo.PriorUnabsorbed.String(),
			)
		}
		if fifo.Shortfall.IsPositive() {
			r.logger.WithContext(ctx).Warn("FIFO layers exhausted, pricing remainder at last layer cost",
				"valuationKey", key.String(),
				"shortfall", fifo.Shortfall.String(),
				"error", domain.ErrFIFOShortfall.Error(),
			)
			if r.metrics != nil {
				r.metrics.RecordFIFOShortfall(material.ID)
			}
		}
		quote.UnitCost = fifo.UnitCost
		quote.Draws = fifo.Draws
		quote.Shortfall = fifo.Shortfall
		quote.Resolved = true

	case domain.CostingWeightedAverage:
		records, err := r.valuation.FindWeightedAverages(ctx, key)
		if err != nil {
			r.fallback(ctx, material, key, err)
			return quote
		}
		latest, ok := domain.LatestWeightedAverage(records)
		if !ok {
			r.fallback(ctx, material, key, nil)
			return quote
		}
		quote.UnitCost = domain.RoundPrice(latest.CostPrice)
		quote.Resolved = true

	case domain.CostingFixed:
		quote.UnitCost = domain.RoundPrice(material.FixedUnitCost)
		quote.Resolved = true

	default:
		r.fallback(ctx, material, key, nil)
	}
	return quote
}

func (r *CostResolver) fallback(ctx context.Context, material *domain.Material, key domain.ValuationKey, err error) {
	log := r.logger.WithContext(ctx)
	if err != nil {
		log = log.WithError(err)
	}
	log.Warn("No cost record found, using zero cost",
		"materialId", material.ID,
		"costingMethod", string(material.CostingMethod),
		"valuationKey", key.String(),
	)
	if r.metrics != nil {
		r.metrics.RecordCostResolutionError(string(material.CostingMethod))
	}
}
