// Package bootstrap coordinates the initial cache fill for a freshly
// authenticated identity: one aggregated indexer snapshot fanned out into
// the local store, followed by notifications, settings and attachment blobs.
package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pubsync/pubsync/internal/apperr"
	"github.com/pubsync/pubsync/internal/homeserver"
	"github.com/pubsync/pubsync/internal/logging"
	"github.com/pubsync/pubsync/internal/models"
	"github.com/pubsync/pubsync/internal/nexus"
	"github.com/pubsync/pubsync/internal/store"
)

// ErrUserNotIndexed is returned by InitializeWithRetry when every attempt
// failed; the usual cause is the indexer still lagging identity creation.
var ErrUserNotIndexed = errors.New("user still not indexed")

const (
	bootstrapAttempts = 3

	// attachmentBatch bounds how many queued blobs one bootstrap fetches;
	// the remainder is drained by later passes.
	attachmentBatch = 100
)

// TTLSubscriber registers an identity for periodic staleness rechecks.
type TTLSubscriber interface {
	SubscribeUser(ctx context.Context, pubky string) error
}

// BlobStore caches attachment blobs locally.
type BlobStore interface {
	Download(ctx context.Context, url string) (string, error)
	Store(url string, data []byte) (string, error)
}

// Deps wires an Orchestrator.
type Deps struct {
	Nexus      nexus.Service
	Homeserver homeserver.Service
	Repos      *store.Repositories
	TTL        TTLSubscriber
	Blobs      BlobStore
	Flatten    Flattener
	Log        logging.Logger

	// NotificationLimit bounds the notification bootstrap fetch.
	NotificationLimit int

	// RetryDelay is the fixed wait before each InitializeWithRetry attempt.
	// Defaults to 5s.
	RetryDelay time.Duration
}

// Orchestrator runs the bootstrap sequence. Persistence failures abort the
// whole operation; settings sync and attachment fetches are best-effort.
type Orchestrator struct {
	nexus      nexus.Service
	hs         homeserver.Service
	repos      *store.Repositories
	ttl        TTLSubscriber
	blobs      BlobStore
	flatten    Flattener
	log        logging.Logger
	notifLimit int
	retryDelay time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(d Deps) *Orchestrator {
	log := d.Log
	if log == nil {
		log = logging.Noop()
	}
	delay := d.RetryDelay
	if delay == 0 {
		delay = 5 * time.Second
	}
	return &Orchestrator{
		nexus:      d.Nexus,
		hs:         d.Homeserver,
		repos:      d.Repos,
		ttl:        d.TTL,
		blobs:      d.Blobs,
		flatten:    d.Flatten,
		log:        log,
		notifLimit: d.NotificationLimit,
		retryDelay: delay,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Stream ids populated from the bootstrap snapshot's id lists.
const (
	GlobalStreamID      = models.StreamID("posts:global:all")
	InfluencersStreamID = models.StreamID("users:today:influencers")
	RecommendedStreamID = models.StreamID("users:global:recommended")
	HotTagsStreamID     = models.StreamID("tags:global:hot")
)

// MutedStreamID names the viewer-scoped muted list.
func MutedStreamID(pubky string) models.StreamID {
	return models.StreamID("users:" + pubky + ":muted")
}

// Initialize produces a populated local cache and the initial notification
// read-state for pubky. An unindexed identity is not an error: the partial
// snapshot is processed as-is and the identity is subscribed for rechecks.
func (o *Orchestrator) Initialize(ctx context.Context, pubky, lastReadURL string) (*models.NotificationState, error) {
	snap, err := o.nexus.FetchBootstrap(ctx, pubky)
	if err != nil {
		return nil, fmt.Errorf("fetching bootstrap snapshot: %w", err)
	}
	if !snap.Indexed {
		o.log.Warn(ctx, "identity not indexed yet, scheduling recheck", "pubky", pubky)
		if err := o.ttl.SubscribeUser(ctx, pubky); err != nil {
			o.log.Error(ctx, "could not subscribe identity for recheck", "pubky", pubky, "error", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.persistUsers(gctx, snap.Users) })
	g.Go(func() error { return o.persistPosts(gctx, snap.Posts) })
	g.Go(func() error { return o.persistStreamLists(gctx, pubky, snap.Lists) })
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var state *models.NotificationState
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		o.fetchAttachments(gctx)
		return nil
	})
	g.Go(func() error {
		var err error
		state, err = o.fetchNotifications(gctx, pubky, lastReadURL)
		return err
	})
	g.Go(func() error {
		o.initSettings(gctx, pubky)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return state, nil
}

// InitializeWithRetry wraps Initialize with up to three attempts, waiting a
// fixed delay before each one (including the first) to give the indexer time
// to catch up with identity creation. Exhausting the attempts yields
// ErrUserNotIndexed rather than the last underlying error.
func (o *Orchestrator) InitializeWithRetry(ctx context.Context, pubky, lastReadURL string) (*models.NotificationState, error) {
	for attempt := 0; attempt < bootstrapAttempts; attempt++ {
		if err := o.sleep(ctx, o.retryDelay); err != nil {
			return nil, err
		}
		o.log.Info(ctx, "bootstrap attempt", "attempt", attempt, "pubky", pubky)

		state, err := o.Initialize(ctx, pubky, lastReadURL)
		if err == nil {
			return state, nil
		}
		o.log.Error(ctx, "bootstrap attempt failed", "attempt", attempt, "error", err)
	}
	return nil, ErrUserNotIndexed
}

func (o *Orchestrator) persistUsers(ctx context.Context, users []models.User) error {
	if len(users) == 0 {
		return nil
	}
	if err := o.repos.Users.BulkUpsert(ctx, users); err != nil {
		return fmt.Errorf("persisting users: %w", err)
	}
	return nil
}

func (o *Orchestrator) persistPosts(ctx context.Context, posts []models.Post) error {
	if len(posts) == 0 {
		return nil
	}
	if err := o.repos.Posts.BulkUpsert(ctx, posts); err != nil {
		return fmt.Errorf("persisting posts: %w", err)
	}

	var refs []models.FileRef
	for _, p := range posts {
		for _, url := range p.Attachments {
			refs = append(refs, models.FileRef{URL: url, PostID: p.ID})
		}
	}
	if len(refs) == 0 {
		return nil
	}
	if err := o.repos.Posts.EnqueueFileRefs(ctx, refs); err != nil {
		return fmt.Errorf("queueing attachments: %w", err)
	}
	return nil
}

func (o *Orchestrator) persistStreamLists(ctx context.Context, pubky string, lists nexus.StreamLists) error {
	now := o.now().UnixMilli()
	for _, l := range []struct {
		id  models.StreamID
		ids []string
	}{
		{GlobalStreamID, lists.Stream},
		{InfluencersStreamID, lists.Influencers},
		{RecommendedStreamID, lists.Recommended},
		{MutedStreamID(pubky), lists.Muted},
		{HotTagsStreamID, lists.HotTags},
	} {
		if err := o.repos.Streams.Put(ctx, l.id, l.ids, now); err != nil {
			return fmt.Errorf("persisting stream %s: %w", l.id, err)
		}
	}
	return nil
}

// fetchAttachments drains a batch of queued attachment refs. Blob fetches
// are best-effort: failures are logged and the refs stay queued.
func (o *Orchestrator) fetchAttachments(ctx context.Context) {
	refs, err := o.repos.Posts.PendingFileRefs(ctx, attachmentBatch)
	if err != nil {
		o.log.Error(ctx, "could not list pending attachments", "error", err)
		return
	}
	for _, ref := range refs {
		if err := o.fetchBlob(ctx, ref.URL); err != nil {
			o.log.Warn(ctx, "attachment fetch failed", "url", ref.URL, "error", err)
			continue
		}
		if err := o.repos.Posts.MarkFileFetched(ctx, ref.URL, ref.PostID); err != nil {
			o.log.Error(ctx, "could not mark attachment fetched", "url", ref.URL, "error", err)
		}
	}
}

func (o *Orchestrator) fetchBlob(ctx context.Context, url string) error {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		_, err := o.blobs.Download(ctx, url)
		return err
	}
	data, err := o.hs.Get(ctx, url)
	if err != nil {
		return err
	}
	_, err = o.blobs.Store(url, data)
	return err
}

// fetchNotifications resolves the last-read marker, pulls the notification
// list, flattens it via the gap-filling collaborator, persists it and
// derives the unread count.
func (o *Orchestrator) fetchNotifications(ctx context.Context, pubky, lastReadURL string) (*models.NotificationState, error) {
	lastRead, err := o.lastRead(ctx, lastReadURL)
	if err != nil {
		return nil, err
	}

	raw, err := o.nexus.FetchNotifications(ctx, pubky, o.notifLimit)
	if err != nil {
		return nil, fmt.Errorf("fetching notifications: %w", err)
	}
	flat, err := o.flatten.Flatten(ctx, pubky, raw)
	if err != nil {
		return nil, fmt.Errorf("flattening notifications: %w", err)
	}
	if err := o.repos.Notifications.BulkUpsert(ctx, flat); err != nil {
		return nil, fmt.Errorf("persisting notifications: %w", err)
	}

	unread, err := o.repos.Notifications.CountUnread(ctx, lastRead)
	if err != nil {
		return nil, fmt.Errorf("counting unread: %w", err)
	}
	return &models.NotificationState{Unread: unread, LastRead: lastRead}, nil
}

// lastRead reads the homeserver's last-read marker. An absent marker means
// this is the user's first session: "now" becomes the effective last-read
// and the marker is created remotely, with a creation failure logged rather
// than propagated. Any other failure kind propagates.
func (o *Orchestrator) lastRead(ctx context.Context, url string) (int64, error) {
	data, err := o.hs.Get(ctx, url)
	if err == nil {
		var m models.LastReadMarker
		if err := json.Unmarshal(data, &m); err != nil {
			return 0, fmt.Errorf("decoding last-read marker: %w", err)
		}
		return m.Timestamp, nil
	}
	if !apperr.IsNotFound(err) {
		return 0, fmt.Errorf("reading last-read marker: %w", err)
	}

	now := o.now().UnixMilli()
	body, _ := json.Marshal(models.LastReadMarker{Timestamp: now})
	if perr := o.hs.Put(ctx, url, body); perr != nil {
		o.log.Warn(ctx, "could not create last-read marker", "error", perr)
	}
	return now, nil
}

// initSettings mirrors the settings record from the homeserver. Best-effort:
// settings are a convenience, never worth failing a bootstrap over.
func (o *Orchestrator) initSettings(ctx context.Context, pubky string) {
	data, err := o.hs.Get(ctx, models.SettingsURL(pubky))
	if err != nil {
		o.log.Warn(ctx, "settings bootstrap skipped", "pubky", pubky, "error", err)
		return
	}
	s := &models.UserSettings{Pubky: pubky, Data: data, UpdatedAt: o.now().UnixMilli()}
	if err := o.repos.Settings.Put(ctx, s); err != nil {
		o.log.Error(ctx, "could not persist settings", "pubky", pubky, "error", err)
	}
}
