// Package notifications persists flattened notification entries.
package notifications

import (
	"context"

	"github.com/pubsync/pubsync/internal/models"
)

// Repository stores notifications for the local identity. Unread counts are
// derived by comparing timestamps against the homeserver's last-read marker.
type Repository interface {
	// BulkUpsert upserts many notifications; safe to apply twice.
	BulkUpsert(ctx context.Context, items []models.Notification) error

	// List returns the newest notifications, up to limit.
	List(ctx context.Context, limit int) ([]models.Notification, error)

	// CountUnread counts notifications with a timestamp strictly greater
	// than since.
	CountUnread(ctx context.Context, since int64) (int, error)

	// DeleteForUser removes every notification of the identity.
	DeleteForUser(ctx context.Context, pubky string) error
}
