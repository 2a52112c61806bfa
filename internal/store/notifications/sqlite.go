package notifications

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

func (r *SQLiteRepository) BulkUpsert(ctx context.Context, items []models.Notification) error {
	query := `INSERT INTO notifications (id, type, pubky, sender, post_id, body, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET type = excluded.type,
			sender = excluded.sender,
			post_id = excluded.post_id,
			body = excluded.body,
			timestamp = excluded.timestamp
	`
	for _, n := range items {
		_, err := r.db.ExecContext(ctx, query,
			n.ID, n.Type, n.Pubky, n.Sender, n.PostID, n.Body, n.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to upsert notification: %w", err)
		}
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]models.Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, type, pubky, sender, post_id, body, timestamp
		FROM notifications ORDER BY timestamp DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select notifications: %w", err)
	}
	defer rows.Close()

	var result []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.Type, &n.Pubky, &n.Sender, &n.PostID, &n.Body, &n.Timestamp); err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) CountUnread(ctx context.Context, since int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE timestamp > ?`, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread: %w", err)
	}
	return count, nil
}

func (r *SQLiteRepository) DeleteForUser(ctx context.Context, pubky string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE pubky = ?`, pubky); err != nil {
		return fmt.Errorf("failed to delete notifications: %w", err)
	}
	return nil
}
