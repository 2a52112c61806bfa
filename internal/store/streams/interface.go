// Package streams persists the ordered id lists of named feeds, separate
// from the post entities themselves.
package streams

import (
	"context"

	"github.com/pubsync/pubsync/internal/models"
)

// Repository stores one array-of-ids record per StreamID. A stream record is
// append-only within one page fetch but wholly replaceable on refresh.
type Repository interface {
	// Get returns the ordered post ids of a stream. A stream that has never
	// been fetched yields a nil slice and no error.
	Get(ctx context.Context, id models.StreamID) ([]string, error)

	// Put replaces the whole stream record.
	Put(ctx context.Context, id models.StreamID, postIDs []string, updatedAt int64) error

	// Append adds ids to the end of the stream, skipping ids already
	// present. Appending to an absent stream creates it.
	Append(ctx context.Context, id models.StreamID, postIDs []string, updatedAt int64) error

	// Delete removes a stream record.
	Delete(ctx context.Context, id models.StreamID) error

	// DeleteForUser removes every stream scoped to the identity.
	DeleteForUser(ctx context.Context, pubky string) error
}
