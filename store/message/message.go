package message

import (
	"context"
	"fmt"
	"time"

	"github.com/Socheema/Framez-sub000/store"
)

// Message belongs to one conversation. Only Read ever changes after insert,
// and it is scoped to the participant who did not send the message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
	Read           bool      `json:"read"`
}

// MaxTextLength is the longest message text accepted, in runes.
const MaxTextLength = 4000

var ErrMessageNotFound = fmt.Errorf("message %w", store.ErrNotFound)

// Store defines message persistence operations.
type Store interface {
	// Insert stores msg and fills in its ID and CreatedAt.
	Insert(ctx context.Context, msg *Message) error
	// ListByConversation returns messages oldest first.
	ListByConversation(ctx context.Context, conversationID string) ([]Message, error)
	// MarkRead flags every unread message of the conversation not sent by
	// readerID and returns how many rows changed.
	MarkRead(ctx context.Context, conversationID, readerID string) (int64, error)
	CountUnread(ctx context.Context, conversationID, readerID string) (int, error)
	// CountUnreadByConversation answers CountUnread for many conversations in
	// one query. Conversations without unread messages are absent.
	CountUnreadByConversation(ctx context.Context, conversationIDs []string, readerID string) (map[string]int, error)
}
