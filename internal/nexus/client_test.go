package nexus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pubsync/pubsync/internal/apperr"
	"github.com/pubsync/pubsync/internal/models"
)

// noRetry keeps tests fast and deterministic.
func noRetry() *apperr.RetryPolicy {
	return &apperr.RetryPolicy{
		Delays: apperr.Delays{
			Default: apperr.Delay{Initial: time.Millisecond, Max: time.Millisecond},
		},
	}
}

func fastRetry() *apperr.RetryPolicy {
	p := apperr.DefaultRetryPolicy()
	p.Delays = apperr.Delays{
		Default:     apperr.Delay{Initial: time.Millisecond, Max: time.Millisecond},
		NotFound:    apperr.Delay{Initial: time.Millisecond, Max: time.Millisecond},
		ServerError: apperr.Delay{Initial: time.Millisecond, Max: time.Millisecond},
		RateLimited: apperr.Delay{Initial: time.Millisecond, Max: time.Millisecond},
	}
	return p
}

func newTestClient(t *testing.T, h http.HandlerFunc, policy *apperr.RetryPolicy) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second, nil, policy, nil)
}

func TestFetchBootstrap_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v0/bootstrap/alice", r.URL.Path)
		w.Write([]byte(`{
			"indexed": true,
			"users": [{"id": "alice", "name": "Alice", "followers": 2, "indexed_at": 100}],
			"posts": [{"id": "alice:p1", "author": "alice", "content": "hi", "kind": "short", "attachments": ["pubky://alice/pub/pubsync.app/files/f1"], "indexed_at": 90}],
			"ids": {"stream": ["alice:p1"], "influencers": ["bob"], "hot_tags": ["go"]}
		}`))
	}, noRetry())

	b, err := client.FetchBootstrap(context.Background(), "alice")
	require.NoError(t, err)
	require.True(t, b.Indexed)
	require.Len(t, b.Users, 1)
	require.Equal(t, "Alice", b.Users[0].Name)
	require.Len(t, b.Posts, 1)
	require.Equal(t, models.CompositeID("alice:p1"), b.Posts[0].ID)
	require.Equal(t, []string{"alice:p1"}, b.Lists.Stream)
	require.Equal(t, []string{"bob"}, b.Lists.Influencers)
}

func TestFetchBootstrap_NotIndexed(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, noRetry())

	b, err := client.FetchBootstrap(context.Background(), "alice")
	require.NoError(t, err)
	require.False(t, b.Indexed)
	require.Empty(t, b.Users)
	require.Empty(t, b.Posts)
}

func TestFetchBootstrap_MalformedBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"indexed": tru`))
	}, noRetry())

	_, err := client.FetchBootstrap(context.Background(), "alice")
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.CodeInvalidResponse, ae.Code)
}

func TestFetchBootstrap_BadPostID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"indexed": true, "posts": [{"id": "nocolon"}]}`))
	}, noRetry())

	_, err := client.FetchBootstrap(context.Background(), "alice")
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.CodeInvalidResponse, ae.Code)
}

func TestFetchNotifications(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v0/user/alice/notifications", r.URL.Path)
		require.Equal(t, "20", r.URL.Query().Get("limit"))
		w.Write([]byte(`[
			{"id": "n2", "type": "follow", "sender": "bob", "body": {"x": 1}, "timestamp": 200},
			{"id": "n1", "type": "reply", "sender": "carol", "post_id": "carol:p9", "timestamp": 100}
		]`))
	}, noRetry())

	ns, err := client.FetchNotifications(context.Background(), "alice", 20)
	require.NoError(t, err)
	require.Len(t, ns, 2)
	require.Equal(t, "n2", ns[0].ID)
	require.Equal(t, "alice", ns[0].Pubky)
	require.Equal(t, "bob", ns[0].Sender)
	require.JSONEq(t, `{"x": 1}`, string(ns[0].Body))
	require.Equal(t, "carol:p9", ns[1].PostID)
}

func TestFetchStreamPage_TimestampCursor(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, "30", q.Get("limit"))
		require.Equal(t, "500", q.Get("end"))
		require.Equal(t, "bob:p3", q.Get("last_post_id"))
		require.Empty(t, q.Get("skip"))
		w.Write([]byte(`{"ids": ["bob:p2", "bob:p1"], "timestamp": 400}`))
	}, noRetry())

	page, err := client.FetchStreamPage(context.Background(), PageRequest{
		StreamID:   models.StreamID("posts:following:alice"),
		Cursor:     Cursor{Timestamp: 500},
		LastPostID: "bob:p3",
		Limit:      30,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"bob:p2", "bob:p1"}, page.IDs)
	require.Equal(t, int64(400), page.Timestamp)
}

func TestFetchStreamPage_SkipCursor(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, "12", q.Get("skip"))
		require.Empty(t, q.Get("end"))
		require.Empty(t, q.Get("last_post_id"))
		w.Write([]byte(`{"ids": ["x:1"]}`))
	}, noRetry())

	page, err := client.FetchStreamPage(context.Background(), PageRequest{
		StreamID: models.StreamID(models.StreamKindEngagement + ":global:all"),
		Cursor:   Cursor{Skip: 12, Timestamp: 999},
		Limit:    30,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"x:1"}, page.IDs)
}

func TestFetchUser_RetriesServerErrors(t *testing.T) {
	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"id": "alice", "name": "Alice"}`))
	}, fastRetry())

	u, err := client.FetchUser(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, "Alice", u.Name)
}

func TestFetchUser_NoRetryOnForbidden(t *testing.T) {
	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
	}, fastRetry())

	_, err := client.FetchUser(context.Background(), "alice")
	require.Error(t, err)
	require.Equal(t, 1, calls)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.CategoryAuth, ae.Category)
}
