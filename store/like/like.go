package like

import (
	"context"
	"fmt"
	"time"

	"github.com/Socheema/Framez-sub000/store"
)

// Like records that a user liked a post.
type Like struct {
	UserID    string    `json:"user_id"`
	PostID    string    `json:"post_id"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	ErrAlreadyLiked = fmt.Errorf("like %w", store.ErrDuplicate)
	ErrNotLiked     = fmt.Errorf("like %w", store.ErrNotFound)
)

// Store defines like persistence operations.
type Store interface {
	Insert(ctx context.Context, userID, postID string) error
	Delete(ctx context.Context, userID, postID string) error
	Exists(ctx context.Context, userID, postID string) (bool, error)
	Count(ctx context.Context, postID string) (int, error)
}
