// Package posts persists cached post snapshots and their queued attachment
// references.
package posts

import (
	"context"

	"github.com/pubsync/pubsync/internal/models"
)

// Repository describes CRUD and query operations for posts. All write
// operations are idempotent under retry: there is no transaction boundary
// between a remote fetch and its persistence, so a crash in between must be
// survivable by simply re-fetching.
type Repository interface {
	// Upsert inserts a new post or updates an existing one by composite id.
	Upsert(ctx context.Context, post *models.Post) error

	// BulkUpsert upserts many posts; safe to apply the same batch twice.
	BulkUpsert(ctx context.Context, posts []models.Post) error

	// Get returns a post by composite id, or common.ErrorNotFound.
	Get(ctx context.Context, id models.CompositeID) (*models.Post, error)

	// Exists reports whether the post is cached locally.
	Exists(ctx context.Context, id models.CompositeID) (bool, error)

	// ListByAuthor returns all cached posts of one author, newest first.
	ListByAuthor(ctx context.Context, author string) ([]models.Post, error)

	// Delete removes a post. Deleting an absent post is not an error.
	Delete(ctx context.Context, id models.CompositeID) error

	// DeleteForUser removes every post and file ref of the identity.
	DeleteForUser(ctx context.Context, pubky string) error

	// EnqueueFileRefs queues attachment URLs for asynchronous fetching.
	EnqueueFileRefs(ctx context.Context, refs []models.FileRef) error

	// PendingFileRefs returns up to limit refs not yet fetched.
	PendingFileRefs(ctx context.Context, limit int) ([]models.FileRef, error)

	// MarkFileFetched records that the attachment blob is cached.
	MarkFileFetched(ctx context.Context, url string, postID models.CompositeID) error
}
