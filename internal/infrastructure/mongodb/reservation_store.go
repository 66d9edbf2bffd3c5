package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wms-platform/ledger-engine/internal/domain"
	pkgmongo "github.com/wms-platform/ledger-engine/pkg/mongodb"
)

type ReservationStore struct {
	collection *pkgmongo.InstrumentedCollection
}

func NewReservationStore(client *pkgmongo.InstrumentedClient) *ReservationStore {
	return &ReservationStore{collection: client.Collection(CollectionReservations)}
}

// FindByDocument returns the live reservations of a document in line order.
func (s *ReservationStore) FindByDocument(ctx context.Context, documentType, documentNo string) ([]domain.Reservation, error) {
	cursor, err := s.collection.Find(ctx,
		bson.M{"documentType": documentType, "documentNo": documentNo, "isDeleted": false},
		options.Find().SetSort(bson.D{{Key: "lineNo", Value: 1}, {Key: "createdAt", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find reservations for %s/%s: %w", documentType, documentNo, err)
	}
	defer cursor.Close(ctx)

	var docs []reservationDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode reservations: %w", err)
	}
	reservations := make([]domain.Reservation, 0, len(docs))
	for i := range docs {
		reservations = append(reservations, docs[i].toDomain())
	}
	return reservations, nil
}

func (s *ReservationStore) Create(ctx context.Context, reservation *domain.Reservation) (string, error) {
	if reservation.ID == "" {
		reservation.ID = pkgmongo.GenerateIDString()
	}
	now := pkgmongo.Now()
	if reservation.CreatedAt.IsZero() {
		reservation.CreatedAt = now
	}
	reservation.UpdatedAt = now
	if _, err := s.collection.InsertOne(ctx, newReservationDocument(reservation)); err != nil {
		return "", fmt.Errorf("failed to create reservation %s: %w", reservation.Key, err)
	}
	return reservation.ID, nil
}

func (s *ReservationStore) Save(ctx context.Context, reservation domain.Reservation) error {
	doc := newReservationDocument(&reservation)
	result, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": reservation.ID},
		pkgmongo.BuildUpdateWithTimestamp(bson.M{
			"reservedQty":  doc.ReservedQty,
			"deliveredQty": doc.DeliveredQty,
			"openQty":      doc.OpenQty,
			"status":       doc.Status,
			"isDeleted":    doc.IsDeleted,
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to save reservation %s: %w", reservation.ID, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("reservation not found: %s", reservation.ID)
	}
	return nil
}

func (s *ReservationStore) SoftDelete(ctx context.Context, id string) error {
	result, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"isDeleted": true, "updatedAt": pkgmongo.Now()}},
	)
	if err != nil {
		return fmt.Errorf("failed to soft delete reservation %s: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("reservation not found: %s", id)
	}
	return nil
}
