package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pubsync/pubsync/internal/common"
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

func (r *SQLiteRepository) Get(ctx context.Context, pubky string) (*models.UserSettings, error) {
	var s models.UserSettings
	err := r.db.QueryRowContext(ctx,
		`SELECT pubky, data, updated_at FROM settings WHERE pubky = ?`, pubky).
		Scan(&s.Pubky, &s.Data, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select settings: %w", err)
	}
	return &s, nil
}

func (r *SQLiteRepository) Put(ctx context.Context, s *models.UserSettings) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (pubky, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(pubky) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, s.Pubky, s.Data, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert settings: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteForUser(ctx context.Context, pubky string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM settings WHERE pubky = ?`, pubky); err != nil {
		return fmt.Errorf("failed to delete settings: %w", err)
	}
	return nil
}
