package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pubsync/pubsync/internal/common"
	"github.com/pubsync/pubsync/internal/models"

	_ "modernc.org/sqlite"
)

func initRepos(t *testing.T) *Repositories {
	t.Helper()
	repos, err := InitDatabase(context.Background(), "file:storeinit?mode=memory&cache=shared")
	require.NoError(t, err)
	repos.DB.SetMaxOpenConns(1)
	repos.DB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = repos.DB.Close() })
	return repos
}

func TestInitDatabase_MigratesAndBinds(t *testing.T) {
	repos := initRepos(t)
	ctx := context.Background()

	require.NoError(t, repos.Users.Upsert(ctx, &models.User{ID: "alice", Name: "Alice"}))
	got, err := repos.Users.Get(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "Alice", got.Name)
}

func TestDeleteAllForUser_WipesEveryEntityKind(t *testing.T) {
	repos := initRepos(t)
	ctx := context.Background()

	pid := models.NewCompositeID("alice", "p1")
	require.NoError(t, repos.Users.Upsert(ctx, &models.User{ID: "alice"}))
	require.NoError(t, repos.Users.PutRelationship(ctx, "alice", "bob", 1))
	require.NoError(t, repos.Posts.Upsert(ctx, &models.Post{ID: pid, Author: "alice"}))
	require.NoError(t, repos.Streams.Put(ctx, "posts:alice:all", []string{string(pid)}, 1))
	require.NoError(t, repos.Notifications.BulkUpsert(ctx, []models.Notification{
		{ID: "n1", Pubky: "alice", Timestamp: 1},
	}))
	require.NoError(t, repos.Settings.Put(ctx, &models.UserSettings{Pubky: "alice"}))
	require.NoError(t, repos.TTL.Upsert(ctx, models.UserEntityKey("alice"), 1))

	require.NoError(t, repos.DeleteAllForUser(ctx, "alice"))

	_, err := repos.Users.Get(ctx, "alice")
	require.ErrorIs(t, err, common.ErrorNotFound)
	_, err = repos.Posts.Get(ctx, pid)
	require.ErrorIs(t, err, common.ErrorNotFound)
	ids, err := repos.Streams.Get(ctx, "posts:alice:all")
	require.NoError(t, err)
	require.Nil(t, ids)
	notifs, err := repos.Notifications.List(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, notifs)
	_, err = repos.Settings.Get(ctx, "alice")
	require.ErrorIs(t, err, common.ErrorNotFound)
	due, err := repos.TTL.Due(ctx, 10, 10)
	require.NoError(t, err)
	require.Empty(t, due)
}
