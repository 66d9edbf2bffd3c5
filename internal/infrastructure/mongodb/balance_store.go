package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/wms-platform/ledger-engine/internal/domain"
	pkgmongo "github.com/wms-platform/ledger-engine/pkg/mongodb"
)

// BalanceStore keeps one collection per balance scope.
type BalanceStore struct {
	aggregate *pkgmongo.InstrumentedCollection
	batch     *pkgmongo.InstrumentedCollection
	serial    *pkgmongo.InstrumentedCollection
}

func NewBalanceStore(client *pkgmongo.InstrumentedClient) *BalanceStore {
	return &BalanceStore{
		aggregate: client.Collection(CollectionItemBalance),
		batch:     client.Collection(CollectionBatchBalance),
		serial:    client.Collection(CollectionSerialBalance),
	}
}

func (s *BalanceStore) collectionFor(kind domain.ScopeKind) *pkgmongo.InstrumentedCollection {
	switch kind {
	case domain.ScopeBatch:
		return s.batch
	case domain.ScopeSerial:
		return s.serial
	default:
		return s.aggregate
	}
}

func keyFilter(key domain.BalanceKey) bson.M {
	filter := bson.M{
		"materialId": key.MaterialID,
		"plantId":    key.PlantID,
		"locationId": key.LocationID,
	}
	switch key.Scope.Kind() {
	case domain.ScopeBatch:
		filter["batchId"] = key.Scope.BatchID()
	case domain.ScopeSerial:
		filter["serialNo"] = key.Scope.SerialNo()
	}
	return filter
}

func (s *BalanceStore) Find(ctx context.Context, key domain.BalanceKey) (*domain.BalanceRecord, error) {
	kind := key.Scope.Kind()
	var doc balanceDocument
	err := s.collectionFor(kind).FindOne(ctx, keyFilter(key)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find %s balance %s: %w", kind, key, err)
	}
	record := doc.toDomain(kind)
	return &record, nil
}

func (s *BalanceStore) FindSerials(ctx context.Context, materialID, plantID, locationID string, serialNos []string) ([]domain.BalanceRecord, error) {
	if len(serialNos) == 0 {
		return nil, nil
	}
	cursor, err := s.serial.Find(ctx, bson.M{
		"materialId": materialID,
		"plantId":    plantID,
		"locationId": locationID,
		"serialNo":   bson.M{"$in": serialNos},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find serial balances: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []balanceDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode serial balances: %w", err)
	}
	records := make([]domain.BalanceRecord, 0, len(docs))
	for i := range docs {
		records = append(records, docs[i].toDomain(domain.ScopeSerial))
	}
	return records, nil
}

func (s *BalanceStore) Create(ctx context.Context, record *domain.BalanceRecord) (string, error) {
	if record.ID == "" {
		record.ID = pkgmongo.GenerateIDString()
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = pkgmongo.Now()
	}
	if _, err := s.collectionFor(record.Key.Scope.Kind()).InsertOne(ctx, newBalanceDocument(record)); err != nil {
		return "", fmt.Errorf("failed to create balance %s: %w", record.Key, err)
	}
	return record.ID, nil
}

func (s *BalanceStore) Save(ctx context.Context, record *domain.BalanceRecord) error {
	record.UpdatedAt = pkgmongo.Now()
	return s.write(ctx, record)
}

// Revert restores a record to its captured state, timestamp included.
func (s *BalanceStore) Revert(ctx context.Context, preImage domain.BalanceRecord) error {
	return s.write(ctx, &preImage)
}

func (s *BalanceStore) write(ctx context.Context, record *domain.BalanceRecord) error {
	doc := newBalanceDocument(record)
	result, err := s.collectionFor(record.Key.Scope.Kind()).UpdateOne(ctx,
		bson.M{"_id": record.ID},
		bson.M{"$set": bson.M{
			"unrestrictedQty": doc.UnrestrictedQty,
			"reservedQty":     doc.ReservedQty,
			"balanceQuantity": doc.BalanceQuantity,
			"updatedAt":       doc.UpdatedAt,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to save balance %s: %w", record.Key, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("balance record not found: %s", record.ID)
	}
	return nil
}
