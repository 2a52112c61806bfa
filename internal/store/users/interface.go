// Package users persists cached user profiles and follow relationships.
package users

import (
	"context"

	"github.com/pubsync/pubsync/internal/models"
)

// Repository describes CRUD and query operations for users and
// relationships. Implementations are typically backed by a local SQLite
// database. All write operations are idempotent under retry.
type Repository interface {
	// Upsert inserts a new user or updates an existing one by pubky.
	Upsert(ctx context.Context, user *models.User) error

	// BulkUpsert upserts many users; safe to apply the same batch twice.
	BulkUpsert(ctx context.Context, users []models.User) error

	// Get returns a user by pubky. Returns common.ErrorNotFound when the
	// user has never been cached.
	Get(ctx context.Context, pubky string) (*models.User, error)

	// PutRelationship records that follower follows followee.
	PutRelationship(ctx context.Context, follower, followee string, createdAt int64) error

	// DeleteRelationship removes a follow edge. Deleting an absent edge is
	// not an error.
	DeleteRelationship(ctx context.Context, follower, followee string) error

	// GetRelationship returns the follow edge, or common.ErrorNotFound.
	GetRelationship(ctx context.Context, follower, followee string) (*models.Relationship, error)

	// DeleteForUser removes the user's profile and every relationship the
	// user participates in.
	DeleteForUser(ctx context.Context, pubky string) error
}
