// Package ttlrecords persists scheduled staleness markers consumed by the
// TTL coordinator.
package ttlrecords

import (
	"context"

	"github.com/pubsync/pubsync/internal/models"
)

// Repository stores ttl records keyed by "kind:id" entity keys. Records
// never block reads; a due record only makes its entity eligible for
// background revalidation.
type Repository interface {
	// Upsert schedules (or reschedules) an entity's staleness point.
	Upsert(ctx context.Context, entityKey string, staleAt int64) error

	// Due returns up to limit records with staleAt <= now, oldest first.
	Due(ctx context.Context, now int64, limit int) ([]models.TTLRecord, error)

	// Delete clears a record. Deleting an absent record is not an error.
	Delete(ctx context.Context, entityKey string) error

	// DeleteForUser removes the identity's records (its user record and the
	// records of its posts).
	DeleteForUser(ctx context.Context, pubky string) error
}
