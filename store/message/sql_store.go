package message

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/Socheema/Framez-sub000/store"
	"github.com/Socheema/Framez-sub000/store/conversation"
)

// SQLStore implements Store on the messages table.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Insert(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (conversation_id, sender_id, text)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, read
	`
	err := s.db.QueryRowContext(ctx, query, msg.ConversationID, msg.SenderID, msg.Text).
		Scan(&msg.ID, &msg.CreatedAt, &msg.Read)
	if store.IsForeignKeyViolation(err) {
		return conversation.ErrConversationNotFound
	}
	return err
}

func (s *SQLStore) ListByConversation(ctx context.Context, conversationID string) ([]Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, text, created_at, read
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Text, &m.CreatedAt, &m.Read); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLStore) MarkRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET read = true
		WHERE conversation_id = $1 AND sender_id <> $2 AND read = false
	`, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLStore) CountUnread(ctx context.Context, conversationID, readerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = $1 AND sender_id <> $2 AND read = false
	`, conversationID, readerID).Scan(&n)
	return n, err
}

func (s *SQLStore) CountUnreadByConversation(ctx context.Context, conversationIDs []string, readerID string) (map[string]int, error) {
	out := make(map[string]int, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, COUNT(*)
		FROM messages
		WHERE conversation_id = ANY($1::uuid[]) AND sender_id <> $2 AND read = false
		GROUP BY conversation_id
	`, pq.Array(conversationIDs), readerID)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}
