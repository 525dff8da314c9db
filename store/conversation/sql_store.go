package conversation

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Socheema/Framez-sub000/store"
)

// SQLStore implements Store using a database/sql connection.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const conversationColumns = `id, participant1, participant2, created_at, updated_at`

func scanConversation(row interface{ Scan(...any) error }) (*Conversation, error) {
	var convo Conversation
	if err := row.Scan(&convo.ID, &convo.Participant1, &convo.Participant2, &convo.CreatedAt, &convo.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return &convo, nil
}

func (s *SQLStore) GetBetween(ctx context.Context, participant1, participant2 string) (*Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE participant1 = $1 AND participant2 = $2
		LIMIT 1
	`
	return scanConversation(s.db.QueryRowContext(ctx, query, participant1, participant2))
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	return scanConversation(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLStore) Create(ctx context.Context, convo *Conversation) error {
	if convo.CreatedAt.IsZero() {
		convo.CreatedAt = time.Now()
	}
	if convo.UpdatedAt.IsZero() {
		convo.UpdatedAt = convo.CreatedAt
	}

	query := `
		INSERT INTO conversations (participant1, participant2, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	err := s.db.QueryRowContext(ctx, query, convo.Participant1, convo.Participant2, convo.CreatedAt, convo.UpdatedAt).Scan(&convo.ID)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return ErrConversationExists
		}
		return err
	}
	return nil
}

func (s *SQLStore) ListForUser(ctx context.Context, userID string) ([]Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE participant1 = $1 OR participant2 = $1
		ORDER BY updated_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []Conversation
	for rows.Next() {
		convo, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *convo)
	}
	return out, rows.Err()
}

func (s *SQLStore) Touch(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE conversations SET updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConversationNotFound
	}
	return nil
}
