// Package stream turns named feeds into incrementally-loadable, deduplicated
// id sequences backed by the local cache first and the indexer second.
package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/pubsync/pubsync/internal/logging"
	"github.com/pubsync/pubsync/internal/models"
	"github.com/pubsync/pubsync/internal/nexus"
	"github.com/pubsync/pubsync/internal/store/posts"
	"github.com/pubsync/pubsync/internal/store/streams"
)

// SliceRequest asks for one window of a stream.
type SliceRequest struct {
	StreamID models.StreamID

	// LastPostID is empty for the initial page; for subsequent pages it is
	// the last id of the previous page, the tie-breaker for entries sharing
	// a timestamp.
	LastPostID string

	// Tail is the cursor: a timestamp upper bound for timeline streams, the
	// count of already-retrieved ids for engagement streams.
	Tail int64

	Limit int
}

// Slice is one resolved window.
type Slice struct {
	IDs []string
	// Timestamp is the indexed time of the oldest returned entry, the
	// cursor for the next page. Zero when unknown.
	Timestamp int64
}

// Engine resolves stream windows. It is safe for concurrent use across
// different stream ids; calls for the same id must be serialized by the
// caller, which Paginator does.
type Engine struct {
	nexus   nexus.Service
	posts   posts.Repository
	streams streams.Repository
	log     logging.Logger
	now     func() time.Time
}

func NewEngine(n nexus.Service, p posts.Repository, s streams.Repository, log logging.Logger) *Engine {
	return &Engine{nexus: n, posts: p, streams: s, log: log, now: time.Now}
}

// CachedLastPostTimestamp returns the indexed time of the last cached entry
// of a stream, or 0 when the stream has never been fetched or its tail post
// is no longer cached. Used only to seed the initial page.
func (e *Engine) CachedLastPostTimestamp(ctx context.Context, id models.StreamID) (int64, error) {
	ids, err := e.streams.Get(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("reading stream %s: %w", id, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	cid, err := models.ParseCompositeID(ids[len(ids)-1])
	if err != nil {
		return 0, nil
	}
	post, err := e.posts.Get(ctx, cid)
	if err != nil {
		return 0, nil
	}
	return post.IndexedAt, nil
}

// NextSlice resolves one window. The initial page (empty LastPostID) is
// cache-first: cached ids are served, topped up remotely when they cannot
// fill the limit. Subsequent pages always go remote.
func (e *Engine) NextSlice(ctx context.Context, req SliceRequest) (*Slice, error) {
	if req.LastPostID == "" {
		return e.initialSlice(ctx, req)
	}
	return e.fetchRemote(ctx, req)
}

func (e *Engine) initialSlice(ctx context.Context, req SliceRequest) (*Slice, error) {
	cached, err := e.streams.Get(ctx, req.StreamID)
	if err != nil {
		return nil, fmt.Errorf("reading stream %s: %w", req.StreamID, err)
	}

	if len(cached) >= req.Limit {
		window := cached[:req.Limit]
		return &Slice{IDs: window, Timestamp: e.timestampOf(ctx, window[len(window)-1])}, nil
	}

	// The cache cannot fill the page; continue from its tail remotely.
	// Ranked streams skip exactly the cached count; timelines carry the
	// caller's timestamp bound.
	if req.StreamID.CursorKind() == models.CursorSkipCount {
		req.Tail = int64(len(cached))
	}
	remote, err := e.fetchRemote(ctx, req)
	if err != nil {
		return nil, err
	}

	merged := make([]string, 0, len(cached)+len(remote.IDs))
	seen := make(map[string]struct{}, len(cached))
	for _, id := range cached {
		merged = append(merged, id)
		seen[id] = struct{}{}
	}
	for _, id := range remote.IDs {
		if _, dup := seen[id]; dup {
			continue
		}
		merged = append(merged, id)
	}
	return &Slice{IDs: merged, Timestamp: remote.Timestamp}, nil
}

func (e *Engine) fetchRemote(ctx context.Context, req SliceRequest) (*Slice, error) {
	pr := nexus.PageRequest{
		StreamID:   req.StreamID,
		LastPostID: req.LastPostID,
		Limit:      req.Limit,
	}
	switch req.StreamID.CursorKind() {
	case models.CursorSkipCount:
		pr.Cursor.Skip = int(req.Tail)
	default:
		pr.Cursor.Timestamp = req.Tail
	}

	page, err := e.nexus.FetchStreamPage(ctx, pr)
	if err != nil {
		return nil, err
	}

	if len(page.IDs) > 0 {
		if err := e.streams.Append(ctx, req.StreamID, page.IDs, e.now().UnixMilli()); err != nil {
			return nil, fmt.Errorf("persisting stream %s: %w", req.StreamID, err)
		}
	}
	return &Slice{IDs: page.IDs, Timestamp: page.Timestamp}, nil
}

// ClearStaleCache drops ids whose post snapshot is no longer cached locally.
// It is a sanity pass run once before the first page fetch, not a
// correctness requirement; read errors leave the record untouched.
func (e *Engine) ClearStaleCache(ctx context.Context, id models.StreamID) error {
	ids, err := e.streams.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("reading stream %s: %w", id, err)
	}
	if len(ids) == 0 {
		return nil
	}

	kept := make([]string, 0, len(ids))
	for _, raw := range ids {
		cid, err := models.ParseCompositeID(raw)
		if err != nil {
			continue
		}
		ok, err := e.posts.Exists(ctx, cid)
		if err != nil {
			return fmt.Errorf("checking post %s: %w", cid, err)
		}
		if ok {
			kept = append(kept, raw)
		}
	}
	if len(kept) == len(ids) {
		return nil
	}
	if err := e.streams.Put(ctx, id, kept, e.now().UnixMilli()); err != nil {
		return fmt.Errorf("rewriting stream %s: %w", id, err)
	}
	return nil
}

// ReplaceStream overwrites the persisted id list of a stream.
func (e *Engine) ReplaceStream(ctx context.Context, id models.StreamID, ids []string) error {
	if err := e.streams.Put(ctx, id, ids, e.now().UnixMilli()); err != nil {
		return fmt.Errorf("rewriting stream %s: %w", id, err)
	}
	return nil
}

func (e *Engine) timestampOf(ctx context.Context, rawID string) int64 {
	cid, err := models.ParseCompositeID(rawID)
	if err != nil {
		return 0
	}
	post, err := e.posts.Get(ctx, cid)
	if err != nil {
		return 0
	}
	return post.IndexedAt
}
