package application

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wms-platform/ledger-engine/internal/domain"
	"github.com/wms-platform/ledger-engine/pkg/logging"
	"github.com/wms-platform/ledger-engine/pkg/metrics"
)

// MovementEntry is one movement to append.
type MovementEntry struct {
	Direction  domain.Direction
	Category   domain.Category
	LocationID string
	BatchID    string
	BaseQty    decimal.Decimal
	UnitCost   decimal.Decimal
	Serials    []SerialShare
}

// MovementRecorder appends movements and their serial children.
type MovementRecorder struct {
	movements domain.MovementStore
	logger    *logging.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewMovementRecorder creates a MovementRecorder. m may be nil.
func NewMovementRecorder(movements domain.MovementStore, logger *logging.Logger, m *metrics.Metrics) *MovementRecorder {
	return &MovementRecorder{
		movements: movements,
		logger:    logger.WithComponent("movement-recorder"),
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Record appends entry for a line of doc. Entries with no quantity are
// skipped and return nil.
func (r *MovementRecorder) Record(ctx context.Context, uow *UnitOfWork, doc domain.Document, material *domain.Material, uom string, entry MovementEntry) (*domain.Movement, error) {
	if !entry.BaseQty.IsPositive() {
		return nil, nil
	}
	if uom == "" {
		uom = material.BaseUOM
	}

	now := r.now()
	m := &domain.Movement{
		TransactionType: doc.DocumentType,
		TransactionNo:   doc.DocumentNo,
		ReferenceNo:     doc.ReferenceNo,
		Direction:       entry.Direction,
		Category:        entry.Category,
		MaterialID:      material.ID,
		Quantity:        material.FromBase(entry.BaseQty, uom),
		UOM:             uom,
		BaseQty:         domain.RoundQty(entry.BaseQty),
		BaseUOM:         material.BaseUOM,
		UnitPrice:       domain.RoundPrice(entry.UnitCost),
		TotalPrice:      domain.RoundPrice(entry.BaseQty.Mul(entry.UnitCost)),
		PlantID:         doc.PlantID,
		LocationID:      entry.LocationID,
		BatchID:         entry.BatchID,
		CreatedAt:       now,
		CreatedBy:       doc.UserID,
	}

	id, err := r.movements.Create(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("failed to record %s %s movement: %w", entry.Direction, entry.Category, err)
	}
	m.ID = id
	uow.SoftDeleteMovement(id)

	for _, s := range entry.Serials {
		if !s.Qty.IsPositive() {
			continue
		}
		serial := &domain.SerialMovement{
			MovementID: id,
			SerialNo:   s.SerialNo,
			BatchID:    s.BatchID,
			PlantID:    doc.PlantID,
			BaseQty:    domain.RoundQty(s.Qty),
			BaseUOM:    material.BaseUOM,
			CreatedAt:  now,
			CreatedBy:  doc.UserID,
		}
		serialID, err := r.movements.CreateSerial(ctx, serial)
		if err != nil {
			return nil, fmt.Errorf("failed to record serial movement for %s: %w", s.SerialNo, err)
		}
		uow.SoftDeleteSerialMovement(serialID)
	}

	if r.metrics != nil {
		r.metrics.RecordMovement(string(entry.Direction), string(entry.Category))
	}
	r.logger.WithContext(ctx).Debug("Movement recorded",
		"movementId", id,
		"materialId", material.ID,
		"direction", string(entry.Direction),
		"category", string(entry.Category),
		"baseQty", m.BaseQty.String(),
	)
	return m, nil
}
