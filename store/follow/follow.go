package follow

import (
	"context"
	"fmt"
	"time"

	"github.com/Socheema/Framez-sub000/store"
)

// Edge is a directed follower -> following relationship.
type Edge struct {
	FollowerID  string    `json:"follower_id"`
	FollowingID string    `json:"following_id"`
	CreatedAt   time.Time `json:"created_at"`
}

var (
	ErrAlreadyFollowing = fmt.Errorf("follow edge %w", store.ErrDuplicate)
	ErrNotFollowing     = fmt.Errorf("follow edge %w", store.ErrNotFound)
)

// Store defines follow edge persistence operations. At most one edge exists
// per ordered pair.
type Store interface {
	Insert(ctx context.Context, followerID, followingID string) error
	Delete(ctx context.Context, followerID, followingID string) error
	Exists(ctx context.Context, followerID, followingID string) (bool, error)
	CountFollowers(ctx context.Context, userID string) (int, error)
	CountFollowing(ctx context.Context, userID string) (int, error)
	ListFollowing(ctx context.Context, followerID string) ([]string, error)
}
