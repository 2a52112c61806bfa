package models

// Timestamps throughout are Unix milliseconds, matching the indexer's
// convention. The sentinel 0 means "never set".

// User is the cached profile of an identity, keyed by its pubky.
type User struct {
	// ID is the user's pubky (public-key identifier).
	ID string

	Name  string
	Bio   string
	Image string

	// Denormalized counters as reported by the indexer.
	Followers int
	Following int
	Posts     int

	// IndexedAt is when the indexer last saw this profile.
	IndexedAt int64
}

// Post is a cached post snapshot. The stored representation is
// last-written-wins; there is no merge.
type Post struct {
	// ID is the "author:localId" composite key.
	ID CompositeID

	Author  string
	Content string
	Kind    string

	// ReplyTo is the composite id of the parent post, if any.
	ReplyTo string

	// Attachments holds the remote URLs of file attachments referenced by
	// the post. The blobs themselves are fetched asynchronously.
	Attachments []string

	IndexedAt int64
}

// Relationship records that Follower follows Followee.
type Relationship struct {
	Follower  string
	Followee  string
	CreatedAt int64
}

// StreamRecord persists the ordered id list of one stream, separate from the
// entities themselves. It is append-only within a page fetch and wholly
// replaced on refresh.
type StreamRecord struct {
	ID        StreamID
	PostIDs   []string
	UpdatedAt int64
}

// UserSettings is the per-identity settings record mirrored from the
// homeserver. Data is the raw settings document.
type UserSettings struct {
	Pubky     string
	Data      []byte
	UpdatedAt int64
}

// TTLRecord schedules an entity for background revalidation. It never blocks
// a read; stale entities are served while the coordinator refreshes them.
type TTLRecord struct {
	// EntityKey is "kind:id", e.g. "user:<pubky>".
	EntityKey string
	// StaleAt is when the entity becomes eligible for revalidation.
	StaleAt int64
}

// FileRef is a queued attachment fetch for a post.
type FileRef struct {
	URL     string
	PostID  CompositeID
	Fetched bool
}

// UserEntityKey builds the TTL entity key for a user.
func UserEntityKey(pubky string) string { return "user:" + pubky }
