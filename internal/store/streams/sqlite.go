package streams

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pubsync/pubsync/internal/dbx"
	"github.com/pubsync/pubsync/internal/models"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context, id models.StreamID) ([]string, error) {
	var raw string
	err := r.db.QueryRowContext(ctx,
		`SELECT post_ids FROM streams WHERE id = ?`, string(id)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select stream: %w", err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stream ids: %w", err)
	}
	return ids, nil
}

func (r *SQLiteRepository) Put(ctx context.Context, id models.StreamID, postIDs []string, updatedAt int64) error {
	if postIDs == nil {
		postIDs = []string{}
	}
	raw, err := json.Marshal(postIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal stream ids: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO streams (id, post_ids, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET post_ids = excluded.post_ids, updated_at = excluded.updated_at
	`, string(id), string(raw), updatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert stream: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Append(ctx context.Context, id models.StreamID, postIDs []string, updatedAt int64) error {
	existing, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(existing))
	for _, pid := range existing {
		seen[pid] = struct{}{}
	}
	merged := existing
	for _, pid := range postIDs {
		if _, ok := seen[pid]; ok {
			continue
		}
		seen[pid] = struct{}{}
		merged = append(merged, pid)
	}
	return r.Put(ctx, id, merged, updatedAt)
}

func (r *SQLiteRepository) Delete(ctx context.Context, id models.StreamID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM streams WHERE id = ?`, string(id)); err != nil {
		return fmt.Errorf("failed to delete stream: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteForUser(ctx context.Context, pubky string) error {
	// User-scoped streams carry the pubky as their middle segment.
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM streams WHERE id LIKE '%:' || ? || ':%'`, pubky); err != nil {
		return fmt.Errorf("failed to delete streams: %w", err)
	}
	return nil
}
