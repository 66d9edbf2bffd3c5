package outbox

import (
	"context"
	"time"
)

// Repository defines the interface for outbox event persistence
type Repository interface {
	Save(ctx context.Context, event *Entry) error

	// FindUnpublished returns the oldest unpublished events still eligible for retry.
	FindUnpublished(ctx context.Context, limit int) ([]*Entry, error)

	// CountUnpublished counts events awaiting relay.
	CountUnpublished(ctx context.Context) (int64, error)

	MarkPublished(ctx context.Context, eventID string) error

	// IncrementRetry increments the retry count and records the last error.
	IncrementRetry(ctx context.Context, eventID string, errorMsg string) error

	// DeletePublished removes events published before the cutoff.
	DeletePublished(ctx context.Context, before time.Time) (int64, error)
}
