package posts

import (
	"context"
	"database/sql"
	"encoding/json"
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

const upsertPostQuery = `INSERT INTO posts (id, author, content, kind, reply_to, attachments, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content,
			kind = excluded.kind,
			reply_to = excluded.reply_to,
			attachments = excluded.attachments,
			indexed_at = excluded.indexed_at
`

func (r *SQLiteRepository) Upsert(ctx context.Context, p *models.Post) error {
	attachments, err := json.Marshal(p.Attachments)
	if err != nil {
		return fmt.Errorf("failed to marshal attachments: %w", err)
	}
	_, err = r.db.ExecContext(ctx, upsertPostQuery,
		string(p.ID), p.Author, p.Content, p.Kind, p.ReplyTo, string(attachments), p.IndexedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert post: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) BulkUpsert(ctx context.Context, posts []models.Post) error {
	for i := range posts {
		if err := r.Upsert(ctx, &posts[i]); err != nil {
			return err
		}
	}
	return nil
}

func scanPost(row interface{ Scan(...any) error }) (*models.Post, error) {
	var p models.Post
	var id, attachments string
	if err := row.Scan(&id, &p.Author, &p.Content, &p.Kind, &p.ReplyTo, &attachments, &p.IndexedAt); err != nil {
		return nil, err
	}
	p.ID = models.CompositeID(id)
	if err := json.Unmarshal([]byte(attachments), &p.Attachments); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attachments: %w", err)
	}
	return &p, nil
}

const selectPostColumns = `id, author, content, kind, reply_to, attachments, indexed_at`

func (r *SQLiteRepository) Get(ctx context.Context, id models.CompositeID) (*models.Post, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+selectPostColumns+` FROM posts WHERE id = ?`, string(id))
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select post: %w", err)
	}
	return p, nil
}

func (r *SQLiteRepository) Exists(ctx context.Context, id models.CompositeID) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM posts WHERE id = ?`, string(id)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check post: %w", err)
	}
	return true, nil
}

func (r *SQLiteRepository) ListByAuthor(ctx context.Context, author string) ([]models.Post, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectPostColumns+` FROM posts WHERE author = ? ORDER BY indexed_at DESC`, author)
	if err != nil {
		return nil, fmt.Errorf("failed to select posts: %w", err)
	}
	defer rows.Close()

	var result []models.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id models.CompositeID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, string(id)); err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteForUser(ctx context.Context, pubky string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM file_refs WHERE post_id IN (SELECT id FROM posts WHERE author = ?)`, pubky); err != nil {
		return fmt.Errorf("failed to delete file refs: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM posts WHERE author = ?`, pubky); err != nil {
		return fmt.Errorf("failed to delete posts: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) EnqueueFileRefs(ctx context.Context, refs []models.FileRef) error {
	for _, ref := range refs {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO file_refs (url, post_id, fetched) VALUES (?, ?, 0)
			ON CONFLICT(url, post_id) DO NOTHING
		`, ref.URL, string(ref.PostID))
		if err != nil {
			return fmt.Errorf("failed to enqueue file ref: %w", err)
		}
	}
	return nil
}

func (r *SQLiteRepository) PendingFileRefs(ctx context.Context, limit int) ([]models.FileRef, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT url, post_id FROM file_refs WHERE fetched = 0 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select file refs: %w", err)
	}
	defer rows.Close()

	var result []models.FileRef
	for rows.Next() {
		var ref models.FileRef
		var postID string
		if err := rows.Scan(&ref.URL, &postID); err != nil {
			return nil, err
		}
		ref.PostID = models.CompositeID(postID)
		result = append(result, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) MarkFileFetched(ctx context.Context, url string, postID models.CompositeID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE file_refs SET fetched = 1 WHERE url = ? AND post_id = ?`, url, string(postID))
	if err != nil {
		return fmt.Errorf("failed to mark file fetched: %w", err)
	}
	return nil
}
