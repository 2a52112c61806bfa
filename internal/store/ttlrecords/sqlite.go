package ttlrecords

import (
	"context"
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

func (r *SQLiteRepository) Upsert(ctx context.Context, entityKey string, staleAt int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ttl_records (entity_key, stale_at) VALUES (?, ?)
		ON CONFLICT(entity_key) DO UPDATE SET stale_at = excluded.stale_at
	`, entityKey, staleAt)
	if err != nil {
		return fmt.Errorf("failed to upsert ttl record: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Due(ctx context.Context, now int64, limit int) ([]models.TTLRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT entity_key, stale_at FROM ttl_records
		WHERE stale_at <= ? ORDER BY stale_at ASC LIMIT ?
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select due ttl records: %w", err)
	}
	defer rows.Close()

	var result []models.TTLRecord
	for rows.Next() {
		var rec models.TTLRecord
		if err := rows.Scan(&rec.EntityKey, &rec.StaleAt); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, entityKey string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM ttl_records WHERE entity_key = ?`, entityKey); err != nil {
		return fmt.Errorf("failed to delete ttl record: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteForUser(ctx context.Context, pubky string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM ttl_records
		WHERE entity_key = 'user:' || ? OR entity_key LIKE 'post:' || ? || ':%'
	`, pubky, pubky)
	if err != nil {
		return fmt.Errorf("failed to delete ttl records: %w", err)
	}
	return nil
}
