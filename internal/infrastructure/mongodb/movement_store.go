package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wms-platform/ledger-engine/internal/domain"
	pkgmongo "github.com/wms-platform/ledger-engine/pkg/mongodb"
)

// MovementStore appends to the movement ledger. Entries are never deleted,
// only flagged.
type MovementStore struct {
	movements *pkgmongo.InstrumentedCollection
	serials   *pkgmongo.InstrumentedCollection
}

func NewMovementStore(client *pkgmongo.InstrumentedClient) *MovementStore {
	return &MovementStore{
		movements: client.Collection(CollectionMovements),
		serials:   client.Collection(CollectionSerialMovements),
	}
}

func (s *MovementStore) Create(ctx context.Context, movement *domain.Movement) (string, error) {
	if movement.ID == "" {
		movement.ID = pkgmongo.GenerateIDString()
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = pkgmongo.Now()
	}
	if _, err := s.movements.InsertOne(ctx, newMovementDocument(movement)); err != nil {
		return "", fmt.Errorf("failed to create movement: %w", err)
	}
	return movement.ID, nil
}

func (s *MovementStore) CreateSerial(ctx context.Context, movement *domain.SerialMovement) (string, error) {
	if movement.ID == "" {
		movement.ID = pkgmongo.GenerateIDString()
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = pkgmongo.Now()
	}
	if _, err := s.serials.InsertOne(ctx, newSerialMovementDocument(movement)); err != nil {
		return "", fmt.Errorf("failed to create serial movement: %w", err)
	}
	return movement.ID, nil
}

func (s *MovementStore) SoftDelete(ctx context.Context, id string) error {
	return softDelete(ctx, s.movements, id)
}

func (s *MovementStore) SoftDeleteSerial(ctx context.Context, id string) error {
	return softDelete(ctx, s.serials, id)
}

func softDelete(ctx context.Context, collection *pkgmongo.InstrumentedCollection, id string) error {
	result, err := collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"isDeleted": true}},
	)
	if err != nil {
		return fmt.Errorf("failed to soft delete %s %s: %w", collection.Name(), id, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%s entry not found: %s", collection.Name(), id)
	}
	return nil
}

func (s *MovementStore) Find(ctx context.Context, query domain.MovementQuery) ([]domain.Movement, error) {
	filter := bson.M{}
	if query.TransactionNo != "" {
		filter["transactionNo"] = query.TransactionNo
	}
	if query.ReferenceNo != "" {
		filter["referenceNo"] = query.ReferenceNo
	}
	if len(filter) == 0 {
		return nil, domain.NewLedgerError(domain.KindInvalidInput, "movement query needs a transaction or reference number")
	}
	if !query.IncludeDeleted {
		filter["isDeleted"] = false
	}

	cursor, err := s.movements.Find(ctx, filter, options.Find().SetSort(pkgmongo.SortAscending("createdAt")))
	if err != nil {
		return nil, fmt.Errorf("failed to find movements: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []movementDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode movements: %w", err)
	}
	movements := make([]domain.Movement, 0, len(docs))
	for i := range docs {
		movements = append(movements, docs[i].toDomain())
	}
	return movements, nil
}

// FindSerials returns the serial entries of the given movements, deleted
// ones included.
func (s *MovementStore) FindSerials(ctx context.Context, movementIDs []string) ([]domain.SerialMovement, error) {
	if len(movementIDs) == 0 {
		return nil, nil
	}
	cursor, err := s.serials.Find(ctx,
		bson.M{"movementId": bson.M{"$in": movementIDs}},
		options.Find().SetSort(pkgmongo.SortAscending("createdAt")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find serial movements: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []serialMovementDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode serial movements: %w", err)
	}
	serials := make([]domain.SerialMovement, 0, len(docs))
	for i := range docs {
		serials = append(serials, docs[i].toDomain())
	}
	return serials, nil
}
