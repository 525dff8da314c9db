package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/Socheema/Framez-sub000/store"
)

// Conversation represents a direct chat thread between two users.
// Participant1 is always the smaller of the two ids.
type Conversation struct {
	ID           string    `json:"id"`
	Participant1 string    `json:"participant1"`
	Participant2 string    `json:"participant2"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Other returns the participant that is not userID.
func (c *Conversation) Other(userID string) string {
	if c.Participant1 == userID {
		return c.Participant2
	}
	return c.Participant1
}

// Has reports whether userID takes part in the conversation.
func (c *Conversation) Has(userID string) bool {
	return c.Participant1 == userID || c.Participant2 == userID
}

var (
	ErrConversationNotFound = fmt.Errorf("conversation %w", store.ErrNotFound)
	ErrConversationExists   = fmt.Errorf("conversation %w", store.ErrDuplicate)
)

// Canonical orders an unordered participant pair so that either lookup
// order maps to the same row.
func Canonical(userAID, userBID string) (string, string) {
	if userBID < userAID {
		return userBID, userAID
	}
	return userAID, userBID
}

// Store defines conversation persistence operations.
type Store interface {
	// GetBetween looks up the conversation of a canonical pair.
	GetBetween(ctx context.Context, participant1, participant2 string) (*Conversation, error)
	Get(ctx context.Context, id string) (*Conversation, error)
	// Create inserts convo and fills in its ID. A second conversation for the
	// same pair fails with ErrConversationExists.
	Create(ctx context.Context, convo *Conversation) error
	// ListForUser returns the user's conversations, most recently active first.
	ListForUser(ctx context.Context, userID string) ([]Conversation, error)
	Touch(ctx context.Context, id string, at time.Time) error
}
