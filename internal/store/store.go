// Package store wires the local cache database: it opens sqlite, applies
// the embedded goose migrations, and hands out the per-entity repositories.
// The local cache is the single source of truth for rendering; every remote
// fetch lands here before anything observes it.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/pubsync/pubsync/internal/dbx"
	"github.com/pubsync/pubsync/internal/store/migrations"
	"github.com/pubsync/pubsync/internal/store/notifications"
	"github.com/pubsync/pubsync/internal/store/posts"
	"github.com/pubsync/pubsync/internal/store/settings"
	"github.com/pubsync/pubsync/internal/store/streams"
	"github.com/pubsync/pubsync/internal/store/ttlrecords"
	"github.com/pubsync/pubsync/internal/store/users"
)

// Repositories bundles the per-entity repositories over one database handle.
type Repositories struct {
	Users         users.Repository
	Posts         posts.Repository
	Streams       streams.Repository
	Notifications notifications.Repository
	Settings      settings.Repository
	TTL           ttlrecords.Repository

	DB *sql.DB
}

// RunMigrations applies the embedded goose migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

// InitDatabase opens the sqlite cache at dsn, migrates it, and returns the
// repositories bound to it.
func InitDatabase(ctx context.Context, dsn string) (*Repositories, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(ctx, db); err != nil {
		return nil, err
	}

	return NewRepositories(db), nil
}

// NewRepositories binds repositories to an already-opened database.
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Users:         users.NewSQLiteRepository(db),
		Posts:         posts.NewSQLiteRepository(db),
		Streams:       streams.NewSQLiteRepository(db),
		Notifications: notifications.NewSQLiteRepository(db),
		Settings:      settings.NewSQLiteRepository(db),
		TTL:           ttlrecords.NewSQLiteRepository(db),
		DB:            db,
	}
}

// DeleteAllForUser wipes every locally cached entity of the identity inside
// one transaction: profile, relationships, posts, file refs, streams,
// notifications, settings and ttl records. The wipe is irreversible.
func (r *Repositories) DeleteAllForUser(ctx context.Context, pubky string) error {
	return dbx.WithTx(ctx, r.DB, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := posts.NewSQLiteRepository(tx).DeleteForUser(ctx, pubky); err != nil {
			return err
		}
		if err := streams.NewSQLiteRepository(tx).DeleteForUser(ctx, pubky); err != nil {
			return err
		}
		if err := notifications.NewSQLiteRepository(tx).DeleteForUser(ctx, pubky); err != nil {
			return err
		}
		if err := settings.NewSQLiteRepository(tx).DeleteForUser(ctx, pubky); err != nil {
			return err
		}
		if err := ttlrecords.NewSQLiteRepository(tx).DeleteForUser(ctx, pubky); err != nil {
			return err
		}
		return users.NewSQLiteRepository(tx).DeleteForUser(ctx, pubky)
	})
}
