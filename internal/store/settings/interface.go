// Package settings persists the per-identity settings record mirrored from
// the homeserver.
package settings

import (
	"context"

	"github.com/pubsync/pubsync/internal/models"
)

// Repository stores settings documents keyed by pubky.
type Repository interface {
	// Get returns the identity's settings, or common.ErrorNotFound.
	Get(ctx context.Context, pubky string) (*models.UserSettings, error)

	// Put upserts the settings record.
	Put(ctx context.Context, s *models.UserSettings) error

	// DeleteForUser removes the identity's settings record.
	DeleteForUser(ctx context.Context, pubky string) error
}
