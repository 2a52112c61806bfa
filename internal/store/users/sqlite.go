package users

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

const upsertUserQuery = `INSERT INTO users (id, name, bio, image, followers, following, posts, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name,
			bio = excluded.bio,
			image = excluded.image,
			followers = excluded.followers,
			following = excluded.following,
			posts = excluded.posts,
			indexed_at = excluded.indexed_at
`

func (r *SQLiteRepository) Upsert(ctx context.Context, u *models.User) error {
	_, err := r.db.ExecContext(ctx, upsertUserQuery,
		u.ID, u.Name, u.Bio, u.Image, u.Followers, u.Following, u.Posts, u.IndexedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) BulkUpsert(ctx context.Context, users []models.User) error {
	for i := range users {
		if err := r.Upsert(ctx, &users[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, pubky string) (*models.User, error) {
	query := `SELECT id, name, bio, image, followers, following, posts, indexed_at
		FROM users WHERE id = ?`
	var u models.User
	err := r.db.QueryRowContext(ctx, query, pubky).Scan(
		&u.ID, &u.Name, &u.Bio, &u.Image, &u.Followers, &u.Following, &u.Posts, &u.IndexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select user: %w", err)
	}
	return &u, nil
}

func (r *SQLiteRepository) PutRelationship(ctx context.Context, follower, followee string, createdAt int64) error {
	query := `INSERT INTO relationships (follower, followee, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(follower, followee) DO UPDATE SET created_at = excluded.created_at`
	_, err := r.db.ExecContext(ctx, query, follower, followee, createdAt)
	if err != nil {
		return fmt.Errorf("failed to upsert relationship: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteRelationship(ctx context.Context, follower, followee string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM relationships WHERE follower = ? AND followee = ?`, follower, followee)
	if err != nil {
		return fmt.Errorf("failed to delete relationship: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetRelationship(ctx context.Context, follower, followee string) (*models.Relationship, error) {
	var rel models.Relationship
	err := r.db.QueryRowContext(ctx,
		`SELECT follower, followee, created_at FROM relationships WHERE follower = ? AND followee = ?`,
		follower, followee).Scan(&rel.Follower, &rel.Followee, &rel.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select relationship: %w", err)
	}
	return &rel, nil
}

func (r *SQLiteRepository) DeleteForUser(ctx context.Context, pubky string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM relationships WHERE follower = ? OR followee = ?`, pubky, pubky); err != nil {
		return fmt.Errorf("failed to delete relationships: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, pubky); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}
