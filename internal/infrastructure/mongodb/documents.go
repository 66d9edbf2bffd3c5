package mongodb

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/wms-platform/ledger-engine/internal/domain"
	pkgmongo "github.com/wms-platform/ledger-engine/pkg/mongodb"
)

// Collection names
const (
	CollectionMaterials        = "materials"
	CollectionItemBalance      = "item_balance"
	CollectionBatchBalance     = "item_batch_balance"
	CollectionSerialBalance    = "item_serial_balance"
	CollectionFIFOLayers       = "fifo_costing_history"
	CollectionWeightedAverages = "wa_costing_method"
	CollectionMovements        = "inventory_movement"
	CollectionSerialMovements  = "inventory_serial_movement"
	CollectionReservations     = "on_reserved_gd"
)

var dec = pkgmongo.Decimal128

type conversionDocument struct {
	AltUOM  string               `bson:"altUom"`
	BaseQty primitive.Decimal128 `bson:"baseQty"`
}

type materialDocument struct {
	ID             string               `bson:"_id"`
	Code           string               `bson:"code,omitempty"`
	Name           string               `bson:"name,omitempty"`
	CostingMethod  string               `bson:"costingMethod"`
	IsSerialized   bool                 `bson:"isSerialized"`
	IsBatchManaged bool                 `bson:"isBatchManaged"`
	BaseUOM        string               `bson:"baseUom"`
	Conversions    []conversionDocument `bson:"conversions,omitempty"`
	FixedUnitCost  primitive.Decimal128 `bson:"fixedUnitCost"`
}

func (d *materialDocument) toDomain() *domain.Material {
	m := &domain.Material{
		ID:             d.ID,
		Code:           d.Code,
		Name:           d.Name,
		CostingMethod:  domain.CostingMethod(d.CostingMethod),
		IsSerialized:   d.IsSerialized,
		IsBatchManaged: d.IsBatchManaged,
		BaseUOM:        d.BaseUOM,
		FixedUnitCost:  pkgmongo.Decimal(d.FixedUnitCost),
	}
	for _, c := range d.Conversions {
		m.Conversions = append(m.Conversions, domain.UOMConversion{AltUOM: c.AltUOM, BaseQty: pkgmongo.Decimal(c.BaseQty)})
	}
	return m
}

func newMaterialDocument(m *domain.Material) *materialDocument {
	d := &materialDocument{
		ID:             m.ID,
		Code:           m.Code,
		Name:           m.Name,
		CostingMethod:  string(m.CostingMethod),
		IsSerialized:   m.IsSerialized,
		IsBatchManaged: m.IsBatchManaged,
		BaseUOM:        m.BaseUOM,
		FixedUnitCost:  dec(m.FixedUnitCost),
	}
	for _, c := range m.Conversions {
		d.Conversions = append(d.Conversions, conversionDocument{AltUOM: c.AltUOM, BaseQty: dec(c.BaseQty)})
	}
	return d
}

// balanceDocument is shared by the three balance collections. BatchID and
// SerialNo are set only where the collection's scope uses them.
type balanceDocument struct {
	ID              string               `bson:"_id"`
	MaterialID      string               `bson:"materialId"`
	PlantID         string               `bson:"plantId"`
	LocationID      string               `bson:"locationId"`
	BatchID         string               `bson:"batchId,omitempty"`
	SerialNo        string               `bson:"serialNo,omitempty"`
	UnrestrictedQty primitive.Decimal128 `bson:"unrestrictedQty"`
	ReservedQty     primitive.Decimal128 `bson:"reservedQty"`
	BalanceQuantity primitive.Decimal128 `bson:"balanceQuantity"`
	UpdatedAt       time.Time            `bson:"updatedAt"`
}

func (d *balanceDocument) toDomain(kind domain.ScopeKind) domain.BalanceRecord {
	var scope domain.BalanceScope
	switch kind {
	case domain.ScopeBatch:
		scope = domain.BatchScope(d.BatchID)
	case domain.ScopeSerial:
		scope = domain.SerialScope(d.SerialNo, d.BatchID)
	default:
		scope = domain.AggregateScope()
	}
	return domain.BalanceRecord{
		ID: d.ID,
		Key: domain.BalanceKey{
			MaterialID: d.MaterialID,
			PlantID:    d.PlantID,
			LocationID: d.LocationID,
			Scope:      scope,
		},
		Unrestricted: pkgmongo.Decimal(d.UnrestrictedQty),
		Reserved:     pkgmongo.Decimal(d.ReservedQty),
		Balance:      pkgmongo.Decimal(d.BalanceQuantity),
		UpdatedAt:    d.UpdatedAt,
	}
}

func newBalanceDocument(r *domain.BalanceRecord) *balanceDocument {
	return &balanceDocument{
		ID:              r.ID,
		MaterialID:      r.Key.MaterialID,
		PlantID:         r.Key.PlantID,
		LocationID:      r.Key.LocationID,
		BatchID:         r.Key.Scope.BatchID(),
		SerialNo:        r.Key.Scope.SerialNo(),
		UnrestrictedQty: dec(r.Unrestricted),
		ReservedQty:     dec(r.Reserved),
		BalanceQuantity: dec(r.Balance),
		UpdatedAt:       r.UpdatedAt,
	}
}

type layerDocument struct {
	ID           string               `bson:"_id"`
	MaterialID   string               `bson:"materialId"`
	BatchID      string               `bson:"batchId,omitempty"`
	PlantID      string               `bson:"plantId"`
	Sequence     int64                `bson:"sequence"`
	AvailableQty primitive.Decimal128 `bson:"availableQty"`
	CostPrice    primitive.Decimal128 `bson:"costPrice"`
	CreatedAt    time.Time            `bson:"createdAt"`
}

func (d *layerDocument) toDomain() domain.FIFOLayer {
	return domain.FIFOLayer{
		ID:        d.ID,
		Key:       domain.ValuationKey{MaterialID: d.MaterialID, BatchID: d.BatchID, PlantID: d.PlantID},
		Sequence:  d.Sequence,
		Available: pkgmongo.Decimal(d.AvailableQty),
		CostPrice: pkgmongo.Decimal(d.CostPrice),
		CreatedAt: d.CreatedAt,
	}
}

func newLayerDocument(l domain.FIFOLayer) *layerDocument {
	return &layerDocument{
		ID:           l.ID,
		MaterialID:   l.Key.MaterialID,
		BatchID:      l.Key.BatchID,
		PlantID:      l.Key.PlantID,
		Sequence:     l.Sequence,
		AvailableQty: dec(l.Available),
		CostPrice:    dec(l.CostPrice),
		CreatedAt:    l.CreatedAt,
	}
}

type weightedAverageDocument struct {
	ID         string               `bson:"_id"`
	MaterialID string               `bson:"materialId"`
	BatchID    string               `bson:"batchId,omitempty"`
	PlantID    string               `bson:"plantId"`
	Quantity   primitive.Decimal128 `bson:"quantity"`
	CostPrice  primitive.Decimal128 `bson:"costPrice"`
	CreatedAt  time.Time            `bson:"createdAt"`
}

func (d *weightedAverageDocument) toDomain() domain.WeightedAverage {
	return domain.WeightedAverage{
		ID:        d.ID,
		Key:       domain.ValuationKey{MaterialID: d.MaterialID, BatchID: d.BatchID, PlantID: d.PlantID},
		Quantity:  pkgmongo.Decimal(d.Quantity),
		CostPrice: pkgmongo.Decimal(d.CostPrice),
		CreatedAt: d.CreatedAt,
	}
}

func newWeightedAverageDocument(w domain.WeightedAverage) *weightedAverageDocument {
	return &weightedAverageDocument{
		ID:         w.ID,
		MaterialID: w.Key.MaterialID,
		BatchID:    w.Key.BatchID,
		PlantID:    w.Key.PlantID,
		Quantity:   dec(w.Quantity),
		CostPrice:  dec(w.CostPrice),
		CreatedAt:  w.CreatedAt,
	}
}

type movementDocument struct {
	ID              string               `bson:"_id"`
	TransactionType string               `bson:"transactionType"`
	TransactionNo   string               `bson:"transactionNo"`
	ReferenceNo     string               `bson:"referenceNo,omitempty"`
	Direction       string               `bson:"direction"`
	Category        string               `bson:"category"`
	MaterialID      string               `bson:"materialId"`
	Quantity        primitive.Decimal128 `bson:"quantity"`
	UOM             string               `bson:"uom"`
	BaseQty         primitive.Decimal128 `bson:"baseQty"`
	BaseUOM         string               `bson:"baseUom"`
	UnitPrice       primitive.Decimal128 `bson:"unitPrice"`
	TotalPrice      primitive.Decimal128 `bson:"totalPrice"`
	PlantID         string               `bson:"plantId"`
	LocationID      string               `bson:"locationId"`
	BatchID         string               `bson:"batchId,omitempty"`
	IsDeleted       bool                 `bson:"isDeleted"`
	CreatedAt       time.Time            `bson:"createdAt"`
	CreatedBy       string               `bson:"createdBy,omitempty"`
}

func (d *movementDocument) toDomain() domain.Movement {
	return domain.Movement{
		ID:              d.ID,
		TransactionType: d.TransactionType,
		TransactionNo:   d.TransactionNo,
		ReferenceNo:     d.ReferenceNo,
		Direction:       domain.Direction(d.Direction),
		Category:        domain.Category(d.Category),
		MaterialID:      d.MaterialID,
		Quantity:        pkgmongo.Decimal(d.Quantity),
		UOM:             d.UOM,
		BaseQty:         pkgmongo.Decimal(d.BaseQty),
		BaseUOM:         d.BaseUOM,
		UnitPrice:       pkgmongo.Decimal(d.UnitPrice),
		TotalPrice:      pkgmongo.Decimal(d.TotalPrice),
		PlantID:         d.PlantID,
		LocationID:      d.LocationID,
		BatchID:         d.BatchID,
		IsDeleted:       d.IsDeleted,
		CreatedAt:       d.CreatedAt,
		CreatedBy:       d.CreatedBy,
	}
}

func newMovementDocument(m *domain.Movement) *movementDocument {
	return &movementDocument{
		ID:              m.ID,
		TransactionType: m.TransactionType,
		TransactionNo:   m.TransactionNo,
		ReferenceNo:     m.ReferenceNo,
		Direction:       string(m.Direction),
		Category:        string(m.Category),
		MaterialID:      m.MaterialID,
		Quantity:        dec(m.Quantity),
		UOM:             m.UOM,
		BaseQty:         dec(m.BaseQty),
		BaseUOM:         m.BaseUOM,
		UnitPrice:       dec(m.UnitPrice),
		TotalPrice:      dec(m.TotalPrice),
		PlantID:         m.PlantID,
		LocationID:      m.LocationID,
		BatchID:         m.BatchID,
		IsDeleted:       m.IsDeleted,
		CreatedAt:       m.CreatedAt,
		CreatedBy:       m.CreatedBy,
	}
}

type serialMovementDocument struct {
	ID         string               `bson:"_id"`
	MovementID string               `bson:"movementId"`
	SerialNo   string               `bson:"serialNo"`
	BatchID    string               `bson:"batchId,omitempty"`
	PlantID    string               `bson:"plantId"`
	BaseQty    primitive.Decimal128 `bson:"baseQty"`
	BaseUOM    string               `bson:"baseUom"`
	IsDeleted  bool                 `bson:"isDeleted"`
	CreatedAt  time.Time            `bson:"createdAt"`
	CreatedBy  string               `bson:"createdBy,omitempty"`
}

func (d *serialMovementDocument) toDomain() domain.SerialMovement {
	return domain.SerialMovement{
		ID:         d.ID,
		MovementID: d.MovementID,
		SerialNo:   d.SerialNo,
		BatchID:    d.BatchID,
		PlantID:    d.PlantID,
		BaseQty:    pkgmongo.Decimal(d.BaseQty),
		BaseUOM:    d.BaseUOM,
		IsDeleted:  d.IsDeleted,
		CreatedAt:  d.CreatedAt,
		CreatedBy:  d.CreatedBy,
	}
}

func newSerialMovementDocument(m *domain.SerialMovement) *serialMovementDocument {
	return &serialMovementDocument{
		ID:         m.ID,
		MovementID: m.MovementID,
		SerialNo:   m.SerialNo,
		BatchID:    m.BatchID,
		PlantID:    m.PlantID,
		BaseQty:    dec(m.BaseQty),
		BaseUOM:    m.BaseUOM,
		IsDeleted:  m.IsDeleted,
		CreatedAt:  m.CreatedAt,
		CreatedBy:  m.CreatedBy,
	}
}

type reservationDocument struct {
	ID           string               `bson:"_id"`
	DocumentType string               `bson:"documentType"`
	DocumentNo   string               `bson:"documentNo"`
	LineNo       string               `bson:"lineNo"`
	MaterialID   string               `bson:"materialId"`
	LocationID   string               `bson:"locationId"`
	BatchID      string               `bson:"batchId"`
	SerialNo     string               `bson:"serialNo"`
	PlantID      string               `bson:"plantId"`
	ReservedQty  primitive.Decimal128 `bson:"reservedQty"`
	DeliveredQty primitive.Decimal128 `bson:"deliveredQty"`
	OpenQty      primitive.Decimal128 `bson:"openQty"`
	Status       string               `bson:"status"`
	IsDeleted    bool                 `bson:"isDeleted"`
	CreatedAt    time.Time            `bson:"createdAt"`
	UpdatedAt    time.Time            `bson:"updatedAt"`
}

func (d *reservationDocument) toDomain() domain.Reservation {
	return domain.Reservation{
		ID: d.ID,
		Key: domain.ReservationKey{
			DocumentType: d.DocumentType,
			DocumentNo:   d.DocumentNo,
			LineNo:       d.LineNo,
			MaterialID:   d.MaterialID,
			LocationID:   d.LocationID,
			BatchID:      d.BatchID,
			SerialNo:     d.SerialNo,
		},
		PlantID:      d.PlantID,
		ReservedQty:  pkgmongo.Decimal(d.ReservedQty),
		DeliveredQty: pkgmongo.Decimal(d.DeliveredQty),
		OpenQty:      pkgmongo.Decimal(d.OpenQty),
		Status:       domain.ReservationStatus(d.Status),
		IsDeleted:    d.IsDeleted,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func newReservationDocument(r *domain.Reservation) *reservationDocument {
	return &reservationDocument{
		ID:           r.ID,
		DocumentType: r.Key.DocumentType,
		DocumentNo:   r.Key.DocumentNo,
		LineNo:       r.Key.LineNo,
		MaterialID:   r.Key.MaterialID,
		LocationID:   r.Key.LocationID,
		BatchID:      r.Key.BatchID,
		SerialNo:     r.Key.SerialNo,
		PlantID:      r.PlantID,
		ReservedQty:  dec(r.ReservedQty),
		DeliveredQty: dec(r.DeliveredQty),
		OpenQty:      dec(r.OpenQty),
		Status:       string(r.Status),
		IsDeleted:    r.IsDeleted,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}
