package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompositeID_Parts(t *testing.T) {
	id := NewCompositeID("o1gg4yy9", "0032FNCGKE4G0")
	require.Equal(t, "o1gg4yy9", id.Author())
	require.Equal(t, "0032FNCGKE4G0", id.LocalID())
}

func TestCompositeID_URIRoundTrip(t *testing.T) {
	id := NewCompositeID("o1gg4yy9", "0032FNCGKE4G0")
	uri := id.URI()
	require.Equal(t, "pubky://o1gg4yy9/pub/pubsync.app/posts/0032FNCGKE4G0", uri)

	back, err := CompositeIDFromURI(uri)
	require.NoError(t, err)
	require.Equal(t, id, back)
}

func TestCompositeIDFromURI_Invalid(t *testing.T) {
	for _, uri := range []string{
		"",
		"http://o1/pub/pubsync.app/posts/x",
		"pubky://o1/pub/pubsync.app/follows/x",
		"pubky:///pub/pubsync.app/posts/x",
		"pubky://o1/pub/pubsync.app/posts/",
		"pubky://o1/pub/pubsync.app/posts/a/b",
	} {
		_, err := CompositeIDFromURI(uri)
		require.ErrorIs(t, err, ErrInvalidPostURI, "uri %q", uri)
	}
}

func TestParseCompositeID(t *testing.T) {
	id, err := ParseCompositeID("author:local")
	require.NoError(t, err)
	require.Equal(t, NewCompositeID("author", "local"), id)

	for _, s := range []string{"", "author", ":local", "author:"} {
		_, err := ParseCompositeID(s)
		require.ErrorIs(t, err, ErrInvalidCompositeID, "id %q", s)
	}
}

func TestStreamID_CursorKind(t *testing.T) {
	timeline, err := ParseStreamID("posts:following:all")
	require.NoError(t, err)
	require.Equal(t, CursorTimestamp, timeline.CursorKind())

	ranked, err := ParseStreamID("engagement:global:hot")
	require.NoError(t, err)
	require.Equal(t, CursorSkipCount, ranked.CursorKind())
}

func TestParseStreamID_Invalid(t *testing.T) {
	for _, s := range []string{"", "posts", "posts:following", "posts::all", "a:b:c:d"} {
		_, err := ParseStreamID(s)
		require.ErrorIs(t, err, ErrInvalidStreamID, "id %q", s)
	}
}
