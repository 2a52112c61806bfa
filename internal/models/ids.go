// Package models defines the domain entities cached by the sync engine and
// the identifier types used to address them.
package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidCompositeID = errors.New("invalid composite id")
	ErrInvalidPostURI     = errors.New("invalid post uri")
	ErrInvalidStreamID    = errors.New("invalid stream id")
)

// uriPrefix and postsSegment make up the addressing scheme for user-owned
// post records: pubky://<author>/pub/pubsync.app/posts/<localId>.
const (
	uriScheme    = "pubky://"
	postsSegment = "/pub/pubsync.app/posts/"
)

// CompositeID identifies a post as "authorId:localId". Keeping the author in
// the key allows author-scoped lookups without a secondary index.
type CompositeID string

// NewCompositeID builds a CompositeID from its two halves.
func NewCompositeID(author, localID string) CompositeID {
	return CompositeID(author + ":" + localID)
}

// ParseCompositeID validates s and returns it as a CompositeID.
func ParseCompositeID(s string) (CompositeID, error) {
	author, local, ok := strings.Cut(s, ":")
	if !ok || author == "" || local == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidCompositeID, s)
	}
	return CompositeID(s), nil
}

// Author returns the author half of the key.
func (c CompositeID) Author() string {
	author, _, _ := strings.Cut(string(c), ":")
	return author
}

// LocalID returns the author-local half of the key.
func (c CompositeID) LocalID() string {
	_, local, _ := strings.Cut(string(c), ":")
	return local
}

// URI renders the fully-qualified homeserver address of the post record.
func (c CompositeID) URI() string {
	return uriScheme + c.Author() + postsSegment + c.LocalID()
}

// CompositeIDFromURI parses a pubky post URI back into a CompositeID.
func CompositeIDFromURI(uri string) (CompositeID, error) {
	rest, ok := strings.CutPrefix(uri, uriScheme)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidPostURI, uri)
	}
	author, local, ok := strings.Cut(rest, postsSegment)
	if !ok || author == "" || local == "" || strings.Contains(local, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPostURI, uri)
	}
	return NewCompositeID(author, local), nil
}

// BaseDirURL is the homeserver directory holding every record the app owns
// for one identity.
func BaseDirURL(pubky string) string {
	return uriScheme + pubky + "/pub/pubsync.app/"
}

// SettingsURL addresses the identity's settings record.
func SettingsURL(pubky string) string {
	return BaseDirURL(pubky) + "settings.json"
}

// ProfileURL addresses the profile marker, the canonical "this account
// exists" record.
func ProfileURL(pubky string) string {
	return BaseDirURL(pubky) + "profile.json"
}

// CursorKind selects the pagination cursor representation for a stream.
type CursorKind int

const (
	// CursorTimestamp pages by "older than" timestamps (timeline streams).
	CursorTimestamp CursorKind = iota
	// CursorSkipCount pages by the number of ids already retrieved
	// (engagement/ranked streams with no stable timestamp ordering).
	CursorSkipCount
)

// StreamKindEngagement marks ranked streams; every other kind is a timeline.
const StreamKindEngagement = "engagement"

// StreamID names an ordered feed as "{kind}:{scope}:{filter}",
// e.g. "posts:following:all" or "engagement:global:hot".
type StreamID string

// ParseStreamID validates the three-segment shape of s.
func ParseStreamID(s string) (StreamID, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidStreamID, s)
	}
	return StreamID(s), nil
}

// Kind returns the first segment of the stream id.
func (s StreamID) Kind() string {
	kind, _, _ := strings.Cut(string(s), ":")
	return kind
}

// CursorKind is determined solely by the StreamID prefix; cursor types must
// never be mixed within one stream.
func (s StreamID) CursorKind() CursorKind {
	if s.Kind() == StreamKindEngagement {
		return CursorSkipCount
	}
	return CursorTimestamp
}
