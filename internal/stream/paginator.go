package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pubsync/pubsync/internal/apperr"
	"github.com/pubsync/pubsync/internal/logging"
	"github.com/pubsync/pubsync/internal/models"
)

// State is the lifecycle of one pagination session.
type State int

const (
	StateIdle State = iota
	StateLoading
	// StateLoaded also covers the halted session after a LoadMore failure;
	// hasMore=false and Err() distinguish it.
	StateLoaded
	StateLoadingMore
	// StateFailed is terminal for the session; only Refresh leaves it.
	StateFailed
)

// Paginator drives one stream session: it accumulates deduplicated ids page
// by page, owns the cursor, and serializes fetches so at most one is in
// flight. A failed page fetch halts the session (hasMore=false) without
// discarding already-loaded ids; Refresh starts the session over.
//
// Results of a fetch that was superseded by Refresh are discarded, so rapid
// refreshes cannot interleave stale pages into the fresh session.
type Paginator struct {
	engine   *Engine
	streamID models.StreamID
	limit    int
	log      logging.Logger

	// reqID tags each fetch cycle; Refresh bumps it to invalidate whatever
	// is currently in flight.
	reqID atomic.Uint64

	mu         sync.Mutex
	state      State
	ids        []string
	seen       map[string]struct{}
	tail       int64
	lastPostID string
	hasMore    bool
	inFlight   bool
	lastErr    error
}

func NewPaginator(engine *Engine, id models.StreamID, limit int, log logging.Logger) *Paginator {
	return &Paginator{
		engine:   engine,
		streamID: id,
		limit:    limit,
		log:      log,
		seen:     map[string]struct{}{},
		hasMore:  true,
	}
}

// IDs returns a copy of the accumulated id list.
func (p *Paginator) IDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.ids))
	copy(out, p.ids)
	return out
}

func (p *Paginator) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Paginator) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasMore
}

// Err returns the failure that halted the session, if any.
func (p *Paginator) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// LoadInitial fetches the first page. It is a no-op when a fetch is already
// in flight or the session has advanced past Idle.
func (p *Paginator) LoadInitial(ctx context.Context) error {
	p.mu.Lock()
	if p.inFlight || p.state != StateIdle {
		p.mu.Unlock()
		return nil
	}
	p.state = StateLoading
	p.inFlight = true
	p.mu.Unlock()

	id := p.reqID.Add(1)

	// Only timeline streams resume from the cached tail's timestamp; ranked
	// streams derive their skip cursor from the cached count inside the
	// engine, never from a timestamp.
	var tail int64
	if p.streamID.CursorKind() == models.CursorTimestamp {
		t, err := p.engine.CachedLastPostTimestamp(ctx, p.streamID)
		if err != nil {
			return p.finishPage(id, nil, err)
		}
		tail = t
	}
	slice, err := p.engine.NextSlice(ctx, SliceRequest{
		StreamID: p.streamID,
		Tail:     tail,
		Limit:    p.limit,
	})
	return p.finishPage(id, slice, err)
}

// LoadMore fetches the next page. It is a no-op, not an error, when a fetch
// is in flight, the stream is exhausted, or the session is not in Loaded
// state (a halted session needs an explicit Refresh).
func (p *Paginator) LoadMore(ctx context.Context) error {
	p.mu.Lock()
	if p.inFlight || !p.hasMore || p.state != StateLoaded {
		p.mu.Unlock()
		return nil
	}
	p.state = StateLoadingMore
	p.inFlight = true
	req := SliceRequest{
		StreamID:   p.streamID,
		LastPostID: p.lastPostID,
		Limit:      p.limit,
	}
	if p.streamID.CursorKind() == models.CursorSkipCount {
		req.Tail = int64(len(p.ids))
	} else {
		req.Tail = p.tail
	}
	p.mu.Unlock()

	id := p.reqID.Add(1)
	slice, err := p.engine.NextSlice(ctx, req)
	return p.finishPage(id, slice, err)
}

// Refresh resets cursors and accumulated ids and reloads the first page.
// Any fetch still in flight is invalidated; its result will be discarded.
func (p *Paginator) Refresh(ctx context.Context) error {
	p.reqID.Add(1)

	p.mu.Lock()
	p.state = StateIdle
	p.ids = nil
	p.seen = map[string]struct{}{}
	p.tail = 0
	p.lastPostID = ""
	p.hasMore = true
	p.inFlight = false
	p.lastErr = nil
	p.mu.Unlock()

	return p.LoadInitial(ctx)
}

// finishPage folds one fetch result into the session under the lock,
// discarding it when a newer cycle has superseded it.
func (p *Paginator) finishPage(id uint64, slice *Slice, err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.reqID.Load() != id {
		// Superseded by Refresh; this result belongs to a dead session.
		return nil
	}
	p.inFlight = false

	if err != nil {
		if ae, ok := apperr.As(err); ok && p.log != nil {
			p.log.Warn(context.Background(), "stream page fetch failed",
				"stream", string(p.streamID), "category", string(ae.Category), "code", string(ae.Code))
		}
		p.hasMore = false
		p.lastErr = err
		if p.state == StateLoading {
			p.state = StateFailed
		} else {
			// A failed LoadMore has no state of its own: the session
			// collapses back into Loaded with hasMore=false and Err set, so
			// the accumulated ids stay renderable. Only Refresh resumes.
			p.state = StateLoaded
		}
		return err
	}

	raw := len(slice.IDs)
	fresh := 0
	for _, rawID := range slice.IDs {
		if _, dup := p.seen[rawID]; dup {
			continue
		}
		p.seen[rawID] = struct{}{}
		p.ids = append(p.ids, rawID)
		fresh++
	}

	// The cursor advances even when the whole page was duplicates, so a
	// remote that keeps returning the same window cannot loop us forever.
	if slice.Timestamp > 0 {
		p.tail = slice.Timestamp
	}
	if raw > 0 {
		p.lastPostID = slice.IDs[raw-1]
	}

	if fresh == 0 || raw < p.limit {
		p.hasMore = false
	}
	p.state = StateLoaded
	return nil
}

// PrependPosts inserts ids at the front, skipping those already present and
// preserving the relative order of the newly added ids. The persisted stream
// record is rewritten to match.
func (p *Paginator) PrependPosts(ctx context.Context, ids ...string) error {
	p.mu.Lock()
	added := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := p.seen[id]; dup {
			continue
		}
		p.seen[id] = struct{}{}
		added = append(added, id)
	}
	if len(added) == 0 {
		p.mu.Unlock()
		return nil
	}
	p.ids = append(added, p.ids...)
	snapshot := make([]string, len(p.ids))
	copy(snapshot, p.ids)
	p.mu.Unlock()

	return p.engine.ReplaceStream(ctx, p.streamID, snapshot)
}

// RemovePosts removes ids by value, keeping the order of the remainder.
// Absent ids are ignored.
func (p *Paginator) RemovePosts(ctx context.Context, ids ...string) error {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	p.mu.Lock()
	changed := false
	kept := p.ids[:0]
	for _, id := range p.ids {
		if _, gone := drop[id]; gone {
			delete(p.seen, id)
			changed = true
			continue
		}
		kept = append(kept, id)
	}
	p.ids = kept
	if !changed {
		p.mu.Unlock()
		return nil
	}
	snapshot := make([]string, len(p.ids))
	copy(snapshot, p.ids)
	p.mu.Unlock()

	return p.engine.ReplaceStream(ctx, p.streamID, snapshot)
}

// ClearStaleCache reconciles the persisted stream record against the local
// post cache. Run once before LoadInitial.
func (p *Paginator) ClearStaleCache(ctx context.Context) error {
	return p.engine.ClearStaleCache(ctx, p.streamID)
}
