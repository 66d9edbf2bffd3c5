package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wms-platform/ledger-engine/internal/domain"
	pkgmongo "github.com/wms-platform/ledger-engine/pkg/mongodb"
)

// MaterialRepository reads the item master.
type MaterialRepository struct {
	collection *pkgmongo.InstrumentedCollection
}

func NewMaterialRepository(client *pkgmongo.InstrumentedClient) *MaterialRepository {
	return &MaterialRepository{collection: client.Collection(CollectionMaterials)}
}

func (r *MaterialRepository) FindByID(ctx context.Context, id string) (*domain.Material, error) {
	var doc materialDocument
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find material %s: %w", id, err)
	}
	return doc.toDomain(), nil
}

// Upsert writes a material master record. The engine never calls it; it
// exists for seeding and the integration tests.
func (r *MaterialRepository) Upsert(ctx context.Context, material *domain.Material) error {
	doc := newMaterialDocument(material)
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": doc.ID},
		bson.M{"$set": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert material %s: %w", material.ID, err)
	}
	return nil
}
