package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pubsync/pubsync/internal/apperr"
	"github.com/pubsync/pubsync/internal/models"
	"github.com/pubsync/pubsync/internal/nexus"
	"github.com/pubsync/pubsync/internal/store"

	_ "modernc.org/sqlite"
)

var dbSeq atomic.Int64

func initRepos(t *testing.T) *store.Repositories {
	t.Helper()
	dsn := fmt.Sprintf("file:bootstrap%d?mode=memory&cache=shared", dbSeq.Add(1))
	repos, err := store.InitDatabase(context.Background(), dsn)
	require.NoError(t, err)
	repos.DB.SetMaxOpenConns(1)
	repos.DB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = repos.DB.Close() })
	return repos
}

type fakeNexus struct {
	bootstrap     *nexus.Bootstrap
	bootstrapErr  error
	bootstrapHits int

	notifications []models.Notification
	notifErr      error

	users map[string]*models.User
}

func (f *fakeNexus) FetchBootstrap(ctx context.Context, pubky string) (*nexus.Bootstrap, error) {
	f.bootstrapHits++
	if f.bootstrapErr != nil {
		return nil, f.bootstrapErr
	}
	return f.bootstrap, nil
}

func (f *fakeNexus) FetchNotifications(ctx context.Context, pubky string, limit int) ([]models.Notification, error) {
	if f.notifErr != nil {
		return nil, f.notifErr
	}
	return f.notifications, nil
}

func (f *fakeNexus) FetchStreamPage(ctx context.Context, req nexus.PageRequest) (*nexus.Page, error) {
	return nil, errors.New("not scripted")
}

func (f *fakeNexus) FetchUser(ctx context.Context, pubky string) (*models.User, error) {
	if u, ok := f.users[pubky]; ok {
		return u, nil
	}
	return nil, apperr.NewFactory("nexus", nil).New(apperr.CategoryClient, apperr.CodeNotFound, "fetch_user", errors.New("unknown"))
}

type fakeHomeserver struct {
	mu      sync.Mutex
	records map[string][]byte
	getErrs map[string]error
	putErr  error
	puts    map[string][]byte
}

func newFakeHomeserver() *fakeHomeserver {
	return &fakeHomeserver{records: map[string][]byte{}, getErrs: map[string]error{}, puts: map[string][]byte{}}
}

func notFoundErr() error {
	return apperr.NewFactory("homeserver", nil).New(apperr.CategoryClient, apperr.CodeNotFound, "get", errors.New("404"))
}

func (f *fakeHomeserver) Get(ctx context.Context, rawURL string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.getErrs[rawURL]; ok {
		return nil, err
	}
	if data, ok := f.records[rawURL]; ok {
		return data, nil
	}
	return nil, notFoundErr()
}

func (f *fakeHomeserver) Put(ctx context.Context, rawURL string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.puts[rawURL] = body
	f.records[rawURL] = body
	return nil
}

func (f *fakeHomeserver) Delete(ctx context.Context, rawURL string) error { return nil }

func (f *fakeHomeserver) Request(ctx context.Context, verb, rawURL string, body []byte) ([]byte, error) {
	return nil, errors.New("not scripted")
}

func (f *fakeHomeserver) List(ctx context.Context, dirURL string) ([]string, error) {
	return nil, errors.New("not scripted")
}

type fakeTTL struct {
	subscribed []string
}

func (f *fakeTTL) SubscribeUser(ctx context.Context, pubky string) error {
	f.subscribed = append(f.subscribed, pubky)
	return nil
}

type fakeBlobs struct {
	mu     sync.Mutex
	stored []string
}

func (f *fakeBlobs) Download(ctx context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = append(f.stored, url)
	return "/tmp/" + url, nil
}

func (f *fakeBlobs) Store(url string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = append(f.stored, url)
	return "/tmp/" + url, nil
}

type fixture struct {
	nexus *fakeNexus
	hs    *fakeHomeserver
	ttl   *fakeTTL
	blobs *fakeBlobs
	repos *store.Repositories
	orch  *Orchestrator
}

const lastReadURL = "pubky://alice/pub/pubsync.app/last_read"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		nexus: &fakeNexus{users: map[string]*models.User{}},
		hs:    newFakeHomeserver(),
		ttl:   &fakeTTL{},
		blobs: &fakeBlobs{},
		repos: initRepos(t),
	}
	f.orch = NewOrchestrator(Deps{
		Nexus:             f.nexus,
		Homeserver:        f.hs,
		Repos:             f.repos,
		TTL:               f.ttl,
		Blobs:             f.blobs,
		Flatten:           NewFlattener(f.nexus, f.repos.Users, nil),
		NotificationLimit: 20,
	})
	return f
}

func marker(ts int64) []byte {
	b, _ := json.Marshal(models.LastReadMarker{Timestamp: ts})
	return b
}

func TestInitialize_PopulatesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.nexus.bootstrap = &nexus.Bootstrap{
		Indexed: true,
		Users:   []models.User{{ID: "alice", Name: "Alice"}, {ID: "bob", Name: "Bob"}},
		Posts: []models.Post{
			{ID: "bob:p1", Author: "bob", Content: "hi", IndexedAt: 90,
				Attachments: []string{"pubky://bob/pub/pubsync.app/files/f1"}},
		},
		Lists: nexus.StreamLists{
			Stream:      []string{"bob:p1"},
			Influencers: []string{"bob"},
			Muted:       []string{"carol"},
		},
	}
	f.hs.records[lastReadURL] = marker(100)
	f.hs.records[models.SettingsURL("alice")] = []byte(`{"theme":"dark"}`)
	f.hs.records["pubky://bob/pub/pubsync.app/files/f1"] = []byte("blob")
	f.nexus.notifications = []models.Notification{
		{ID: "n1", Type: "follow", Sender: "bob", Timestamp: 150},
		{ID: "n2", Type: "follow", Sender: "bob", Timestamp: 50},
	}

	state, err := f.orch.Initialize(ctx, "alice", lastReadURL)
	require.NoError(t, err)
	require.Equal(t, int64(100), state.LastRead)
	require.Equal(t, 1, state.Unread)

	u, err := f.repos.Users.Get(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, "Bob", u.Name)

	p, err := f.repos.Posts.Get(ctx, models.CompositeID("bob:p1"))
	require.NoError(t, err)
	require.Equal(t, "hi", p.Content)

	global, err := f.repos.Streams.Get(ctx, GlobalStreamID)
	require.NoError(t, err)
	require.Equal(t, []string{"bob:p1"}, global)

	muted, err := f.repos.Streams.Get(ctx, MutedStreamID("alice"))
	require.NoError(t, err)
	require.Equal(t, []string{"carol"}, muted)

	// The queued attachment was fetched through the homeserver path and
	// marked done.
	require.Equal(t, []string{"pubky://bob/pub/pubsync.app/files/f1"}, f.blobs.stored)
	pending, err := f.repos.Posts.PendingFileRefs(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	s, err := f.repos.Settings.Get(ctx, "alice")
	require.NoError(t, err)
	require.JSONEq(t, `{"theme":"dark"}`, string(s.Data))

	require.Empty(t, f.ttl.subscribed)
}

func TestInitialize_NotIndexedSubscribesAndContinues(t *testing.T) {
	f := newFixture(t)
	f.nexus.bootstrap = &nexus.Bootstrap{Indexed: false}
	f.hs.records[lastReadURL] = marker(10)

	state, err := f.orch.Initialize(context.Background(), "alice", lastReadURL)
	require.NoError(t, err)
	require.Equal(t, int64(10), state.LastRead)
	require.Equal(t, []string{"alice"}, f.ttl.subscribed)
}

func TestInitialize_HardFetchFailureAborts(t *testing.T) {
	f := newFixture(t)
	f.nexus.bootstrapErr = apperr.NewFactory("nexus", nil).New(apperr.CategoryServer, apperr.CodeInternalError, "fetch_bootstrap", errors.New("boom"))

	_, err := f.orch.Initialize(context.Background(), "alice", lastReadURL)
	require.Error(t, err)
	require.Empty(t, f.ttl.subscribed)
}

func TestInitialize_FirstSessionCreatesMarker(t *testing.T) {
	f := newFixture(t)
	f.nexus.bootstrap = &nexus.Bootstrap{Indexed: true}

	fixed := time.UnixMilli(7_000)
	f.orch.now = func() time.Time { return fixed }

	state, err := f.orch.Initialize(context.Background(), "alice", lastReadURL)
	require.NoError(t, err)
	require.Equal(t, int64(7_000), state.LastRead)

	// The marker was created remotely with the same timestamp.
	require.JSONEq(t, `{"timestamp": 7000}`, string(f.hs.puts[lastReadURL]))
}

func TestInitialize_MarkerCreateFailureIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.nexus.bootstrap = &nexus.Bootstrap{Indexed: true}
	f.hs.putErr = errors.New("write refused")

	state, err := f.orch.Initialize(context.Background(), "alice", lastReadURL)
	require.NoError(t, err)
	require.NotZero(t, state.LastRead)
}

func TestInitialize_MarkerHardFailurePropagates(t *testing.T) {
	f := newFixture(t)
	f.nexus.bootstrap = &nexus.Bootstrap{Indexed: true}
	f.hs.getErrs[lastReadURL] = apperr.NewFactory("homeserver", nil).New(apperr.CategoryTimeout, apperr.CodeRequestTimeout, "get", errors.New("slow"))

	_, err := f.orch.Initialize(context.Background(), "alice", lastReadURL)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrUserNotIndexed)
}

func TestInitialize_NotificationFetchFailurePropagates(t *testing.T) {
	f := newFixture(t)
	f.nexus.bootstrap = &nexus.Bootstrap{Indexed: true}
	f.hs.records[lastReadURL] = marker(10)
	f.nexus.notifErr = apperr.NewFactory("nexus", nil).New(apperr.CategoryServer, apperr.CodeServiceUnavailable, "fetch_notifications", errors.New("down"))

	_, err := f.orch.Initialize(context.Background(), "alice", lastReadURL)
	require.Error(t, err)
}

func TestInitialize_SettingsFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.nexus.bootstrap = &nexus.Bootstrap{Indexed: true}
	f.hs.records[lastReadURL] = marker(10)
	f.hs.getErrs[models.SettingsURL("alice")] = apperr.NewFactory("homeserver", nil).New(apperr.CategoryServer, apperr.CodeInternalError, "get", errors.New("boom"))

	_, err := f.orch.Initialize(context.Background(), "alice", lastReadURL)
	require.NoError(t, err)
}

func TestFlattener_ResolvesUnknownSenders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.nexus.users["bob"] = &models.User{ID: "bob", Name: "Bob"}

	flat, err := f.orch.flatten.Flatten(ctx, "alice", []models.Notification{
		{ID: "n1", Sender: "bob", Timestamp: 1},
		{ID: "n2", Sender: "ghost", Timestamp: 2},
	})
	require.NoError(t, err)
	require.Len(t, flat, 2, "an unresolvable sender does not drop its notification")
	require.Equal(t, "alice", flat[0].Pubky)

	u, err := f.repos.Users.Get(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, "Bob", u.Name)
}

func TestInitializeWithRetry_ExhaustsAndReturnsSentinel(t *testing.T) {
	f := newFixture(t)
	f.nexus.bootstrapErr = apperr.NewFactory("nexus", nil).New(apperr.CategoryServer, apperr.CodeInternalError, "fetch_bootstrap", errors.New("boom"))

	var waits []time.Duration
	f.orch.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	_, err := f.orch.InitializeWithRetry(context.Background(), "alice", lastReadURL)
	require.ErrorIs(t, err, ErrUserNotIndexed)
	require.Equal(t, 3, f.nexus.bootstrapHits)
	// The fixed delay runs before every attempt, the first included.
	require.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second}, waits)
}

func TestInitializeWithRetry_SucceedsMidway(t *testing.T) {
	f := newFixture(t)
	f.hs.records[lastReadURL] = marker(10)

	calls := 0
	fail := apperr.NewFactory("nexus", nil).New(apperr.CategoryServer, apperr.CodeInternalError, "fetch_bootstrap", errors.New("boom"))
	f.nexus.bootstrapErr = fail
	f.nexus.bootstrap = &nexus.Bootstrap{Indexed: true}

	// Clear the failure after the first attempt.
	f.orch.sleep = func(ctx context.Context, d time.Duration) error {
		calls++
		if calls == 2 {
			f.nexus.bootstrapErr = nil
		}
		return nil
	}

	state, err := f.orch.InitializeWithRetry(context.Background(), "alice", lastReadURL)
	require.NoError(t, err)
	require.NotNil(t, state)
	require.Equal(t, 2, f.nexus.bootstrapHits)
}
