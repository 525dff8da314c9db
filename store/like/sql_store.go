package like

import (
	"context"
	"database/sql"

	"github.com/Socheema/Framez-sub000/store"
)

// SQLStore implements Store on the likes table.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Insert(ctx context.Context, userID, postID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO likes (user_id, post_id) VALUES ($1, $2)`, userID, postID)
	if store.IsUniqueViolation(err) {
		return ErrAlreadyLiked
	}
	return err
}

func (s *SQLStore) Delete(ctx context.Context, userID, postID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM likes WHERE user_id = $1 AND post_id = $2`, userID, postID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotLiked
	}
	return nil
}

func (s *SQLStore) Exists(ctx context.Context, userID, postID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM likes WHERE user_id = $1 AND post_id = $2)`,
		userID, postID).Scan(&exists)
	return exists, err
}

func (s *SQLStore) Count(ctx context.Context, postID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM likes WHERE post_id = $1`, postID).Scan(&n)
	return n, err
}
