package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	pkgmongo "github.com/wms-platform/ledger-engine/pkg/mongodb"
	"github.com/wms-platform/ledger-engine/pkg/outbox"
)

// DefaultCollectionName is the default name for the outbox collection
const DefaultCollectionName = "outbox_events"

// OutboxRepository implements outbox.Repository for MongoDB
type OutboxRepository struct {
	collection *pkgmongo.InstrumentedCollection
}

// NewOutboxRepository creates a new MongoDB outbox repository
func NewOutboxRepository(client *pkgmongo.InstrumentedClient) *OutboxRepository {
	return &OutboxRepository{collection: client.Collection(DefaultCollectionName)}
}

func unpublishedFilter() bson.M {
	return bson.M{
		"publishedAt": bson.M{"$exists": false},
		"$expr":       bson.M{"$lt": bson.A{"$retryCount", "$maxRetries"}},
	}
}

// Save saves an outbox event. Inside a session context the insert joins the
// caller's transaction.
func (r *OutboxRepository) Save(ctx context.Context, event *outbox.Entry) error {
	if _, err := r.collection.InsertOne(ctx, event); err != nil {
		return fmt.Errorf("failed to save outbox event: %w", err)
	}
	return nil
}

// FindUnpublished retrieves the oldest unpublished events up to limit
func (r *OutboxRepository) FindUnpublished(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	opts := options.Find().
		SetSort(pkgmongo.SortAscending("createdAt")).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, unpublishedFilter(), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find unpublished events: %w", err)
	}
	defer cursor.Close(ctx)

	var events []*outbox.Entry
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("failed to decode outbox events: %w", err)
	}
	return events, nil
}

func (r *OutboxRepository) CountUnpublished(ctx context.Context) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, unpublishedFilter())
	if err != nil {
		return 0, fmt.Errorf("failed to count unpublished events: %w", err)
	}
	return count, nil
}

// MarkPublished marks an event as published
func (r *OutboxRepository) MarkPublished(ctx context.Context, eventID string) error {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": eventID},
		bson.M{"$set": bson.M{"publishedAt": pkgmongo.Now()}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark event as published: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("outbox event not found: %s", eventID)
	}
	return nil
}

// IncrementRetry increments the retry count and updates last error
func (r *OutboxRepository) IncrementRetry(ctx context.Context, eventID string, errorMsg string) error {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": eventID},
		bson.M{
			"$inc": bson.M{"retryCount": 1},
			"$set": bson.M{"lastError": errorMsg},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to increment retry count: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("outbox event not found: %s", eventID)
	}
	return nil
}

// DeletePublished deletes events published before the cutoff
func (r *OutboxRepository) DeletePublished(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{
		"publishedAt": bson.M{"$exists": true, "$lt": before},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete published events: %w", err)
	}
	return result.DeletedCount, nil
}

// Indexes lists the outbox collection's indexes
func Indexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "publishedAt", Value: 1},
				{Key: "createdAt", Value: 1},
			},
			Options: options.Index().SetName("idx_publishedAt_createdAt"),
		},
		{
			Keys: bson.D{
				{Key: "aggregateId", Value: 1},
				{Key: "createdAt", Value: 1},
			},
			Options: options.Index().SetName("idx_aggregateId_createdAt"),
		},
	}
}

// EnsureIndexes creates necessary indexes for the outbox collection
func (r *OutboxRepository) EnsureIndexes(ctx context.Context) error {
	if err := r.collection.CreateIndexes(ctx, Indexes()); err != nil {
		return fmt.Errorf("failed to create outbox indexes: %w", err)
	}
	return nil
}
