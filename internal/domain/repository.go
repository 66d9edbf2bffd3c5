package domain

import (
	"context"
)

// MaterialRepository reads the item master. FindByID returns nil, nil when
// the material does not exist.
type MaterialRepository interface {
	FindByID(ctx context.Context, id string) (*Material, error)
}

// BalanceStore reads and writes balance records at every scope. Find returns
// nil, nil when no record exists for the key.
type BalanceStore interface {
	Find(ctx context.Context, key BalanceKey) (*BalanceRecord, error)
	FindSerials(ctx context.Context, materialID, plantID, locationID string, serialNos []string) ([]BalanceRecord, error)
	Create(ctx context.Context, record *BalanceRecord) (string, error)
	Save(ctx context.Context, record *BalanceRecord) error
	Revert(ctx context.Context, preImage BalanceRecord) error
}

// ValuationStore holds FIFO layers and weighted average records.
type ValuationStore interface {
	FindLayers(ctx context.Context, key ValuationKey) ([]FIFOLayer, error)
	SaveLayer(ctx context.Context, layer FIFOLayer) error
	FindWeightedAverages(ctx context.Context, key ValuationKey) ([]WeightedAverage, error)
	SaveWeightedAverage(ctx context.Context, record WeightedAverage) error
}

// MovementStore appends movements. Create returns the stored identity.
type MovementStore interface {
	Create(ctx context.Context, movement *Movement) (string, error)
	CreateSerial(ctx context.Context, movement *SerialMovement) (string, error)
	SoftDelete(ctx context.Context, id string) error
	SoftDeleteSerial(ctx context.Context, id string) error
	Find(ctx context.Context, query MovementQuery) ([]Movement, error)
	FindSerials(ctx context.Context, movementIDs []string) ([]SerialMovement, error)
}

// ReservationStore persists reservation records. FindByDocument returns live
// records only.
type ReservationStore interface {
	FindByDocument(ctx context.Context, documentType, documentNo string) ([]Reservation, error)
	Create(ctx context.Context, reservation *Reservation) (string, error)
	Save(ctx context.Context, reservation Reservation) error
	SoftDelete(ctx context.Context, id string) error
}

// Transactor runs fn inside a store transaction. Writes made with the
// context passed to fn commit or abort together.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventPublisher hands domain events to the outbound channel.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}
