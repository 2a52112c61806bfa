// Package nexus is the read port to the indexer service. The indexer
// denormalizes data written to homeservers and lags identity creation, so
// "not indexed yet" is a first-class outcome here, not a failure.
package nexus

import (
	"context"

	"github.com/pubsync/pubsync/internal/models"
)

// StreamLists carries the id lists returned by the bootstrap snapshot.
type StreamLists struct {
	Stream      []string `json:"stream"`
	Influencers []string `json:"influencers"`
	Recommended []string `json:"recommended"`
	Muted       []string `json:"muted"`
	HotTags     []string `json:"hot_tags"`
}

// Bootstrap is the aggregated initial snapshot for one identity. When
// Indexed is false the remaining fields are valid but possibly empty; the
// caller proceeds with them and re-checks later.
type Bootstrap struct {
	Indexed bool
	Users   []models.User
	Posts   []models.Post
	Lists   StreamLists
}

// Cursor is the position of the next page. Exactly one of the two fields is
// meaningful, selected by the stream's cursor kind.
type Cursor struct {
	// Timestamp is the exclusive upper bound ("older than") for timeline
	// streams.
	Timestamp int64
	// Skip is the count of ids already retrieved, for engagement streams.
	Skip int
}

// PageRequest asks for one page of a stream.
type PageRequest struct {
	StreamID models.StreamID
	Cursor   Cursor
	// LastPostID breaks ties between entries sharing a timestamp.
	LastPostID string
	Limit      int
}

// Page is one fetched window of a stream.
type Page struct {
	IDs []string `json:"ids"`
	// Timestamp is the indexed time of the oldest entry, the cursor for the
	// next timeline page. Zero when the page is empty.
	Timestamp int64 `json:"timestamp"`
}

// Service is the indexer port consumed by the engine. Implementations must
// classify every failure through the error taxonomy before returning it.
type Service interface {
	// FetchBootstrap returns the aggregated snapshot for pubky.
	FetchBootstrap(ctx context.Context, pubky string) (*Bootstrap, error)

	// FetchNotifications returns up to limit notifications for pubky,
	// newest first.
	FetchNotifications(ctx context.Context, pubky string, limit int) ([]models.Notification, error)

	// FetchStreamPage returns one page of a stream.
	FetchStreamPage(ctx context.Context, req PageRequest) (*Page, error)

	// FetchUser returns the indexed profile of one identity.
	FetchUser(ctx context.Context, pubky string) (*models.User, error)
}
