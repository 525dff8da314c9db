package mutation

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/Socheema/Framez-sub000/internal/netexec"
	"github.com/Socheema/Framez-sub000/store/follow"
)

// Counts are a user's follower and following totals.
type Counts struct {
	Followers int
	Following int
}

// FollowService owns no state; it is a thin wrapper over follow.Store.
type FollowService struct {
	x        *netexec.Executor
	store    follow.Store
	timeouts Timeouts
}

func NewFollowService(x *netexec.Executor, store follow.Store, timeouts Timeouts) *FollowService {
	return &FollowService{x: x, store: store, timeouts: timeouts.withDefaults()}
}

func validateEdge(followerID, followingID string) error {
	if followerID == "" || followingID == "" {
		return netexec.Invalid("follower and following ids are required")
	}
	if followerID == followingID {
		return netexec.Invalid("user %s cannot follow themselves", followerID)
	}
	return nil
}

// Follow creates the edge. An existing edge yields Conflict.
func (s *FollowService) Follow(ctx context.Context, followerID, followingID string) Result[struct{}] {
	if err := validateEdge(followerID, followingID); err != nil {
		return failed[struct{}](err)
	}
	err := s.x.Do(ctx, netexec.Options{Op: "follow.insert", Timeout: s.timeouts.Write}, func(ctx context.Context) error {
		return s.store.Insert(ctx, followerID, followingID)
	})
	if err == nil || netexec.IsConflict(err) {
		s.Invalidate(followerID, followingID)
	}
	return resultOf(struct{}{}, err)
}

// Unfollow removes the edge. A missing edge yields NotFound.
func (s *FollowService) Unfollow(ctx context.Context, followerID, followingID string) Result[struct{}] {
	if err := validateEdge(followerID, followingID); err != nil {
		return failed[struct{}](err)
	}
	err := s.x.Do(ctx, netexec.Options{Op: "follow.delete", Timeout: s.timeouts.Write}, func(ctx context.Context) error {
		return s.store.Delete(ctx, followerID, followingID)
	})
	if err == nil || netexec.IsNotFound(err) {
		s.Invalidate(followerID, followingID)
	}
	return resultOf(struct{}{}, err)
}

func (s *FollowService) IsFollowing(ctx context.Context, followerID, followingID string) Result[bool] {
	if err := validateEdge(followerID, followingID); err != nil {
		return failed[bool](err)
	}
	v, err := cachedRead(ctx, s.x, IsFollowingKey(followerID, followingID),
		netexec.Options{Op: "follow.exists", Timeout: s.timeouts.Read},
		func(ctx context.Context) (bool, error) {
			return s.store.Exists(ctx, followerID, followingID)
		})
	return resultOf(v, err)
}

// Counts fetches both totals concurrently.
func (s *FollowService) Counts(ctx context.Context, userID string) Result[Counts] {
	if userID == "" {
		return failed[Counts](netexec.Invalid("user id is required"))
	}

	var out Counts
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := cachedRead(gctx, s.x, FollowersCountKey(userID),
			netexec.Options{Op: "follow.count_followers", Timeout: s.timeouts.Read},
			func(ctx context.Context) (int, error) {
				return s.store.CountFollowers(ctx, userID)
			})
		out.Followers = n
		return err
	})
	g.Go(func() error {
		n, err := cachedRead(gctx, s.x, FollowingCountKey(userID),
			netexec.Options{Op: "follow.count_following", Timeout: s.timeouts.Read},
			func(ctx context.Context) (int, error) {
				return s.store.CountFollowing(ctx, userID)
			})
		out.Following = n
		return err
	})
	if err := g.Wait(); err != nil {
		return failed[Counts](err)
	}
	return ok(out)
}

func (s *FollowService) ListFollowing(ctx context.Context, userID string) Result[[]string] {
	if userID == "" {
		return failed[[]string](netexec.Invalid("user id is required"))
	}
	v, err := cachedRead(ctx, s.x, FollowingListKey(userID),
		netexec.Options{Op: "follow.list", Timeout: s.timeouts.Heavy},
		func(ctx context.Context) ([]string, error) {
			return s.store.ListFollowing(ctx, userID)
		})
	return resultOf(v, err)
}

// Invalidate evicts every cached read an edge change can stale. Writes by
// other clients reach us as change events and must be evicted too.
func (s *FollowService) Invalidate(followerID, followingID string) {
	s.x.ClearCache(followKeys(followerID, followingID)...)
}
