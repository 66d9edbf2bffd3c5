package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	pkgmongo "github.com/wms-platform/ledger-engine/pkg/mongodb"
)

// CollectionName holds one document per (scope, key).
const CollectionName = "idempotency_keys"

// Store persists idempotency records. Implementations must make Acquire
// atomic per (scope, key).
type Store interface {
	// Acquire inserts rec locked, or returns the record already stored under
	// the same scope and key. The boolean is true when rec was inserted.
	Acquire(ctx context.Context, rec *Record) (*Record, bool, error)
	// Relock takes over an uncompleted record whose lock is older than
	// staleBefore. It reports whether the lock was taken.
	Relock(ctx context.Context, id string, staleBefore time.Time) (bool, error)
	Complete(ctx context.Context, id string, code int, body []byte, headers map[string]string) error
	// Release forgets the key so the request may be retried.
	Release(ctx context.Context, id string) error
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// MongoStore implements Store on the idempotency_keys collection.
type MongoStore struct {
	collection *pkgmongo.InstrumentedCollection
}

// NewMongoStore creates a MongoStore.
func NewMongoStore(client *pkgmongo.InstrumentedClient) *MongoStore {
	return &MongoStore{collection: client.Collection(CollectionName)}
}

func (s *MongoStore) Acquire(ctx context.Context, rec *Record) (*Record, bool, error) {
	if rec.ID == "" {
		rec.ID = pkgmongo.GenerateIDString()
	}
	lockedAt := rec.CreatedAt
	if lockedAt.IsZero() {
		lockedAt = pkgmongo.Now()
	}

	filter := bson.M{"scope": rec.Scope, "key": rec.Key}
	update := bson.M{
		"$setOnInsert": bson.M{
			"_id":           rec.ID,
			"userId":        rec.UserID,
			"requestPath":   rec.RequestPath,
			"requestMethod": rec.RequestMethod,
			"fingerprint":   rec.Fingerprint,
			"lockedAt":      lockedAt,
			"createdAt":     rec.CreatedAt,
			"expiresAt":     rec.ExpiresAt,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var stored Record
	err := s.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&stored)
	if mongo.IsDuplicateKeyError(err) {
		// Lost an upsert race; the winner's record is there now.
		err = s.collection.FindOne(ctx, filter).Decode(&stored)
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire idempotency key: %w", err)
	}
	return &stored, stored.ID == rec.ID, nil
}

func (s *MongoStore) Relock(ctx context.Context, id string, staleBefore time.Time) (bool, error) {
	filter := bson.M{
		"_id":         id,
		"completedAt": bson.M{"$exists": false},
		"lockedAt":    bson.M{"$lt": staleBefore},
	}
	result, err := s.collection.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"lockedAt": pkgmongo.Now()}})
	if err != nil {
		return false, fmt.Errorf("failed to relock idempotency key: %w", err)
	}
	return result.ModifiedCount == 1, nil
}

func (s *MongoStore) Complete(ctx context.Context, id string, code int, body []byte, headers map[string]string) error {
	update := bson.M{
		"$set": bson.M{
			"responseCode":    code,
			"responseBody":    body,
			"responseHeaders": headers,
			"completedAt":     pkgmongo.Now(),
		},
		"$unset": bson.M{"lockedAt": ""},
	}
	result, err := s.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to store idempotent response: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) Release(ctx context.Context, id string) error {
	if _, err := s.collection.DeleteMany(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

func (s *MongoStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.collection.DeleteMany(ctx, bson.M{"expiresAt": bson.M{"$lt": before}})
	if err != nil {
		return 0, fmt.Errorf("failed to purge idempotency keys: %w", err)
	}
	return result.DeletedCount, nil
}

// Get loads the record stored under scope and key.
func (s *MongoStore) Get(ctx context.Context, scope, key string) (*Record, error) {
	var rec Record
	err := s.collection.FindOne(ctx, bson.M{"scope": scope, "key": key}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Indexes lists the collection's indexes. The TTL index lets MongoDB expire
// keys on its own; Purge covers deployments where TTL monitors are off.
func (s *MongoStore) Indexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "scope", Value: 1}, {Key: "key", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_scope_key"),
		},
		{
			Keys:    bson.D{{Key: "expiresAt", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0).SetName("idx_ttl"),
		},
	}
}

// EnsureIndexes creates the collection's indexes.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	return s.collection.CreateIndexes(ctx, s.Indexes())
}
