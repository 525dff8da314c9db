package mutation

import (
	"context"

	"github.com/Socheema/Framez-sub000/internal/netexec"
	"github.com/Socheema/Framez-sub000/store/like"
)

type LikeService struct {
	x        *netexec.Executor
	store    like.Store
	timeouts Timeouts
}

func NewLikeService(x *netexec.Executor, store like.Store, timeouts Timeouts) *LikeService {
	return &LikeService{x: x, store: store, timeouts: timeouts.withDefaults()}
}

func validateLike(userID, postID string) error {
	if userID == "" || postID == "" {
		return netexec.Invalid("user and post ids are required")
	}
	return nil
}

func (s *LikeService) Like(ctx context.Context, userID, postID string) Result[struct{}] {
	if err := validateLike(userID, postID); err != nil {
		return failed[struct{}](err)
	}
	err := s.x.Do(ctx, netexec.Options{Op: "like.insert", Timeout: s.timeouts.Write}, func(ctx context.Context) error {
		return s.store.Insert(ctx, userID, postID)
	})
	if err == nil || netexec.IsConflict(err) {
		s.Invalidate(userID, postID)
	}
	return resultOf(struct{}{}, err)
}

func (s *LikeService) Unlike(ctx context.Context, userID, postID string) Result[struct{}] {
	if err := validateLike(userID, postID); err != nil {
		return failed[struct{}](err)
	}
	err := s.x.Do(ctx, netexec.Options{Op: "like.delete", Timeout: s.timeouts.Write}, func(ctx context.Context) error {
		return s.store.Delete(ctx, userID, postID)
	})
	if err == nil || netexec.IsNotFound(err) {
		s.Invalidate(userID, postID)
	}
	return resultOf(struct{}{}, err)
}

func (s *LikeService) HasLiked(ctx context.Context, userID, postID string) Result[bool] {
	if err := validateLike(userID, postID); err != nil {
		return failed[bool](err)
	}
	v, err := cachedRead(ctx, s.x, HasLikedKey(userID, postID),
		netexec.Options{Op: "like.exists", Timeout: s.timeouts.Read},
		func(ctx context.Context) (bool, error) {
			return s.store.Exists(ctx, userID, postID)
		})
	return resultOf(v, err)
}

func (s *LikeService) LikesCount(ctx context.Context, postID string) Result[int] {
	if postID == "" {
		return failed[int](netexec.Invalid("post id is required"))
	}
	v, err := cachedRead(ctx, s.x, LikesCountKey(postID),
		netexec.Options{Op: "like.count", Timeout: s.timeouts.Read},
		func(ctx context.Context) (int, error) {
			return s.store.Count(ctx, postID)
		})
	return resultOf(v, err)
}

// Invalidate evicts the cached reads a like change can stale.
func (s *LikeService) Invalidate(userID, postID string) {
	s.x.ClearCache(likeKeys(userID, postID)...)
}
