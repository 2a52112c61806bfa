package homeserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/pubsync/pubsync/internal/apperr"
)

func signedToken(t *testing.T, ttl time.Duration) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(ttl).Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func staticTokens(token string, calls *int) TokenSource {
	return func(ctx context.Context) (string, error) {
		*calls++
		return token, nil
	}
}

func noRetry() *apperr.RetryPolicy {
	return &apperr.RetryPolicy{
		Delays: apperr.Delays{
			Default: apperr.Delay{Initial: time.Millisecond, Max: time.Millisecond},
		},
	}
}

func newTestClient(t *testing.T, h http.HandlerFunc, tokens TokenSource) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second, nil, tokens, noRetry(), nil)
}

func TestPut_TranslatesURLAndAuthenticates(t *testing.T) {
	token := signedToken(t, time.Hour)
	var calls int

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/alice/pub/pubsync.app/settings", r.URL.Path)
		require.Equal(t, "Bearer "+token, r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.Equal(t, `{"theme":"dark"}`, string(body))
	}, staticTokens(token, &calls))

	err := client.Put(context.Background(), "pubky://alice/pub/pubsync.app/settings", []byte(`{"theme":"dark"}`))
	require.NoError(t, err)
}

func TestGet_NotFound(t *testing.T) {
	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}, staticTokens(signedToken(t, time.Hour), new(int)))

	_, err := client.Get(context.Background(), "pubky://alice/pub/pubsync.app/last_read")
	require.Error(t, err)
	require.True(t, apperr.IsNotFound(err))
	require.Equal(t, 1, calls)
}

func TestSessionToken_CachedUntilExpiry(t *testing.T) {
	token := signedToken(t, time.Hour)
	var sourceCalls int

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {}, staticTokens(token, &sourceCalls))

	ctx := context.Background()
	for range 3 {
		_, err := client.Get(ctx, "pubky://alice/pub/pubsync.app/profile.json")
		require.NoError(t, err)
	}
	require.Equal(t, 1, sourceCalls)
}

func TestSessionToken_RefreshedWhenExpired(t *testing.T) {
	expired := signedToken(t, -time.Minute)
	fresh := signedToken(t, time.Hour)

	var sourceCalls int
	tokens := func(ctx context.Context) (string, error) {
		sourceCalls++
		if sourceCalls == 1 {
			return expired, nil
		}
		return fresh, nil
	}

	var seen []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
	}, tokens)

	ctx := context.Background()
	_, err := client.Get(ctx, "pubky://alice/pub/pubsync.app/profile.json")
	require.NoError(t, err)
	// The expired token is never considered valid, so the second call asks
	// the source again.
	_, err = client.Get(ctx, "pubky://alice/pub/pubsync.app/profile.json")
	require.NoError(t, err)

	require.Equal(t, 2, sourceCalls)
	require.Equal(t, "Bearer "+expired, seen[0])
	require.Equal(t, "Bearer "+fresh, seen[1])
}

func TestTokenSourceFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {}, func(ctx context.Context) (string, error) {
		return "", errors.New("signer offline")
	})

	_, err := client.Get(context.Background(), "pubky://alice/pub/pubsync.app/profile.json")
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.CodeTokenExpired, ae.Code)
}

func TestList(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/alice/pub/pubsync.app/", r.URL.Path)
		w.Write([]byte(`["pubky://alice/pub/pubsync.app/posts/p1", "pubky://alice/pub/pubsync.app/profile.json"]`))
	}, staticTokens(signedToken(t, time.Hour), new(int)))

	urls, err := client.List(context.Background(), "pubky://alice/pub/pubsync.app/")
	require.NoError(t, err)
	require.Equal(t, []string{
		"pubky://alice/pub/pubsync.app/posts/p1",
		"pubky://alice/pub/pubsync.app/profile.json",
	}, urls)
}

func TestRequest_ForwardsArbitraryVerb(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.Write([]byte("ok"))
	}, staticTokens(signedToken(t, time.Hour), new(int)))

	body, err := client.Request(context.Background(), http.MethodDelete, "pubky://alice/pub/pubsync.app/posts/p1", nil)
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))
}

func TestRequest_RejectsUnsupportedURL(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {}, staticTokens(signedToken(t, time.Hour), new(int)))

	_, err := client.Get(context.Background(), "ftp://nope")
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.CodeInvalidInput, ae.Code)
}
