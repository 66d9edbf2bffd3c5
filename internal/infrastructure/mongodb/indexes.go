package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	pkgmongo "github.com/wms-platform/ledger-engine/pkg/mongodb"
)

// CollectionIndexes is the index set of one collection.
type CollectionIndexes struct {
	Collection string
	Models     []mongo.IndexModel
}

func index(name string, unique bool, keys ...string) mongo.IndexModel {
	d := bson.D{}
	for _, k := range keys {
		d = append(d, bson.E{Key: k, Value: 1})
	}
	opts := options.Index().SetName(name)
	if unique {
		opts.SetUnique(true)
	}
	return mongo.IndexModel{Keys: d, Options: opts}
}

// IndexPlan lists the indexes the ledger collections need. Balance keys are
// unique per scope so concurrent first receipts cannot create twins.
func IndexPlan() []CollectionIndexes {
	return []CollectionIndexes{
		{CollectionMaterials, []mongo.IndexModel{
			index("idx_code", false, "code"),
		}},
		{CollectionItemBalance, []mongo.IndexModel{
			index("uniq_balance_key", true, "materialId", "plantId", "locationId"),
		}},
		{CollectionBatchBalance, []mongo.IndexModel{
			index("uniq_batch_balance_key", true, "materialId", "plantId", "locationId", "batchId"),
		}},
		{CollectionSerialBalance, []mongo.IndexModel{
			index("uniq_serial_balance_key", true, "materialId", "plantId", "locationId", "serialNo"),
		}},
		{CollectionFIFOLayers, []mongo.IndexModel{
			index("idx_valuation_sequence", false, "materialId", "plantId", "batchId", "sequence"),
		}},
		{CollectionWeightedAverages, []mongo.IndexModel{
			index("idx_valuation_created", false, "materialId", "plantId", "batchId", "createdAt"),
		}},
		{CollectionMovements, []mongo.IndexModel{
			index("idx_transaction_no", false, "transactionNo", "isDeleted"),
			index("idx_reference_no", false, "referenceNo", "isDeleted"),
			index("idx_material_created", false, "materialId", "plantId", "createdAt"),
		}},
		{CollectionSerialMovements, []mongo.IndexModel{
			index("idx_movement_id", false, "movementId"),
			index("idx_serial_no", false, "serialNo", "plantId"),
		}},
		{CollectionReservations, []mongo.IndexModel{
			index("idx_document_live", false, "documentType", "documentNo", "isDeleted"),
		}},
	}
}

// EnsureIndexes creates every index in IndexPlan.
func EnsureIndexes(ctx context.Context, client *pkgmongo.InstrumentedClient) error {
	for _, plan := range IndexPlan() {
		if err := client.Collection(plan.Collection).CreateIndexes(ctx, plan.Models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", plan.Collection, err)
		}
	}
	return nil
}

// IndexName returns the configured name of an index model.
func IndexName(model mongo.IndexModel) string {
	if model.Options != nil && model.Options.Name != nil {
		return *model.Options.Name
	}
	return ""
}
