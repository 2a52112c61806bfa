// Package homeserver is the write port to the user's own homeserver, the
// authoritative store for user-owned records. All mutations flow through it
// after the local cache has been updated.
package homeserver

import "context"

// TokenSource produces a fresh session token. The client calls it whenever
// its cached token is missing or about to expire.
type TokenSource func(ctx context.Context) (string, error)

// Service is the homeserver port. URLs are pubky:// addresses; the client
// translates them to HTTP against its configured base URL.
type Service interface {
	// Request performs an arbitrary authenticated request and returns the
	// raw response body. A 404 response surfaces as a classified NOT_FOUND
	// error; callers branch on it for first-session semantics.
	Request(ctx context.Context, verb, rawURL string, body []byte) ([]byte, error)

	// Get fetches one record.
	Get(ctx context.Context, rawURL string) ([]byte, error)

	// Put writes one record, replacing any previous version.
	Put(ctx context.Context, rawURL string, body []byte) error

	// Delete removes one record.
	Delete(ctx context.Context, rawURL string) error

	// List returns the addresses of the records under a directory URL.
	List(ctx context.Context, dirURL string) ([]string, error)
}
