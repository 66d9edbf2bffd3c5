package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wms-platform/ledger-engine/internal/domain"
	pkgmongo "github.com/wms-platform/ledger-engine/pkg/mongodb"
)

// ValuationStore holds FIFO layers and weighted average history.
type ValuationStore struct {
	layers   *pkgmongo.InstrumentedCollection
	averages *pkgmongo.InstrumentedCollection
}

func NewValuationStore(client *pkgmongo.InstrumentedClient) *ValuationStore {
	return &ValuationStore{
		layers:   client.Collection(CollectionFIFOLayers),
		averages: client.Collection(CollectionWeightedAverages),
	}
}

func valuationFilter(key domain.ValuationKey) bson.M {
	filter := bson.M{"materialId": key.MaterialID, "plantId": key.PlantID}
	if key.BatchID != "" {
		filter["batchId"] = key.BatchID
	} else {
		filter["batchId"] = bson.M{"$in": bson.A{nil, ""}}
	}
	return filter
}

// FindLayers returns layers in consumption order.
func (s *ValuationStore) FindLayers(ctx context.Context, key domain.ValuationKey) ([]domain.FIFOLayer, error) {
	cursor, err := s.layers.Find(ctx, valuationFilter(key), options.Find().SetSort(pkgmongo.SortAscending("sequence")))
	if err != nil {
		return nil, fmt.Errorf("failed to find fifo layers for %s: %w", key, err)
	}
	defer cursor.Close(ctx)

	var docs []layerDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode fifo layers: %w", err)
	}
	layers := make([]domain.FIFOLayer, 0, len(docs))
	for i := range docs {
		layers = append(layers, docs[i].toDomain())
	}
	return layers, nil
}

// SaveLayer upserts by id, so the same call writes a new receipt layer or
// the remaining quantity of a depleted one.
func (s *ValuationStore) SaveLayer(ctx context.Context, layer domain.FIFOLayer) error {
	if layer.ID == "" {
		layer.ID = pkgmongo.GenerateIDString()
	}
	if layer.CreatedAt.IsZero() {
		layer.CreatedAt = pkgmongo.Now()
	}
	doc := newLayerDocument(layer)
	if _, err := s.layers.UpdateOne(ctx, bson.M{"_id": doc.ID}, bson.M{"$set": doc}, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to save fifo layer %s: %w", layer.ID, err)
	}
	return nil
}

func (s *ValuationStore) FindWeightedAverages(ctx context.Context, key domain.ValuationKey) ([]domain.WeightedAverage, error) {
	cursor, err := s.averages.Find(ctx, valuationFilter(key), options.Find().SetSort(pkgmongo.SortAscending("createdAt")))
	if err != nil {
		return nil, fmt.Errorf("failed to find weighted averages for %s: %w", key, err)
	}
	defer cursor.Close(ctx)

	var docs []weightedAverageDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode weighted averages: %w", err)
	}
	records := make([]domain.WeightedAverage, 0, len(docs))
	for i := range docs {
		records = append(records, docs[i].toDomain())
	}
	return records, nil
}

func (s *ValuationStore) SaveWeightedAverage(ctx context.Context, record domain.WeightedAverage) error {
	if record.ID == "" {
		record.ID = pkgmongo.GenerateIDString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = pkgmongo.Now()
	}
	doc := newWeightedAverageDocument(record)
	if _, err := s.averages.UpdateOne(ctx, bson.M{"_id": doc.ID}, bson.M{"$set": doc}, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to save weighted average %s: %w", record.ID, err)
	}
	return nil
}
