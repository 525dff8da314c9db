package reconcile

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Socheema/Framez-sub000/internal/mutation"
	"github.com/Socheema/Framez-sub000/internal/realtime"
	"github.com/Socheema/Framez-sub000/store/like"
)

// PostStore tracks like counts of loaded posts and whether the signed-in
// user liked them.
type PostStore struct {
	me  string
	svc *mutation.LikeService
	sub *realtime.Subscriber
	log *zap.Logger

	mu      sync.RWMutex
	liked   map[string]bool
	counts  counter
	pending pendingSet
	err     error
}

func NewPostStore(userID string, svc *mutation.LikeService, sub *realtime.Subscriber, opts Options) *PostStore {
	opts = opts.withDefaults()
	s := &PostStore{
		me:  userID,
		svc: svc,
		sub: sub,
		log: opts.Log.With(zap.String("store", "post")),
	}
	s.resetLocked()
	return s
}

func (s *PostStore) resetLocked() {
	s.liked = make(map[string]bool)
	s.counts = make(counter)
	s.pending = make(pendingSet)
	s.err = nil
}

func (s *PostStore) Reset() {
	if s.sub != nil {
		s.sub.Unsubscribe(ScopeLikes)
	}
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
}

// Load fetches the like count and own like state of each post.
func (s *PostStore) Load(ctx context.Context, postIDs ...string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range postIDs {
		g.Go(func() error {
			count := s.svc.LikesCount(gctx, id)
			if count.Failed() {
				return fmt.Errorf("load likes of %s: %w", id, count.Err)
			}
			liked := s.svc.HasLiked(gctx, s.me, id)
			if liked.Failed() {
				return fmt.Errorf("load like state of %s: %w", id, liked.Err)
			}
			s.mu.Lock()
			if !s.pending.has(postRef(id)) {
				s.counts[id] = count.Value
				s.liked[id] = liked.Value
			}
			s.mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *PostStore) RequestLike(ctx context.Context, postID string) error {
	return s.request(ctx, postID, true)
}

func (s *PostStore) RequestUnlike(ctx context.Context, postID string) error {
	return s.request(ctx, postID, false)
}

// ToggleLike flips the current like state of postID.
func (s *PostStore) ToggleLike(ctx context.Context, postID string) error {
	if s.HasLiked(postID) {
		return s.RequestUnlike(ctx, postID)
	}
	return s.RequestLike(ctx, postID)
}

func (s *PostStore) request(ctx context.Context, postID string, add bool) error {
	ref := postRef(postID)
	delta := 1
	if !add {
		delta = -1
	}

	s.mu.Lock()
	if !s.pending.acquire(ref) {
		s.mu.Unlock()
		return nil
	}
	defer func() {
		s.mu.Lock()
		s.pending.release(ref)
		s.mu.Unlock()
	}()
	prev, known := s.liked[postID]
	if known && prev == add {
		s.mu.Unlock()
		return nil
	}
	s.liked[postID] = add
	prevCount, tracked := s.counts.swap(postID, delta)
	s.err = nil
	s.mu.Unlock()

	var res mutation.Result[struct{}]
	if add {
		res = s.svc.Like(ctx, s.me, postID)
	} else {
		res = s.svc.Unlike(ctx, s.me, postID)
	}

	if res.Failed() {
		s.mu.Lock()
		if known {
			s.liked[postID] = prev
		} else {
			delete(s.liked, postID)
		}
		s.counts.restore(postID, prevCount, tracked)
		s.err = res.Err
		s.mu.Unlock()
		s.log.Warn("like change rolled back",
			zap.String("post", postID),
			zap.Bool("like", add),
			zap.Stringer("kind", res.Kind()),
			zap.Error(res.Err))
		return res.Err
	}

	count := s.svc.LikesCount(ctx, postID)
	if count.Failed() {
		s.log.Warn("refresh like count", zap.String("post", postID), zap.Error(count.Err))
		return nil
	}
	s.mu.Lock()
	s.counts[postID] = count.Value
	s.mu.Unlock()
	return nil
}

// Watch subscribes to like changes of all posts.
func (s *PostStore) Watch(ctx context.Context) error {
	if s.sub == nil {
		return fmt.Errorf("watch likes: no subscriber")
	}
	return s.sub.Subscribe(ctx, ScopeLikes, realtime.Filter{Table: realtime.TableLikes}, s.handleLike)
}

func (s *PostStore) handleLike(_ context.Context, evt realtime.Event) {
	var delta int
	switch evt.Op {
	case realtime.OpInsert:
		delta = 1
	case realtime.OpDelete:
		delta = -1
	default:
		return
	}
	var l like.Like
	if err := evt.Decode(&l); err != nil {
		s.log.Warn("undecodable like event", zap.Error(err))
		return
	}
	s.svc.Invalidate(l.UserID, l.PostID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending.has(postRef(l.PostID)) {
		return
	}
	if l.UserID == s.me {
		liked := delta > 0
		if cur, ok := s.liked[l.PostID]; ok && cur == liked {
			return
		}
		s.liked[l.PostID] = liked
	}
	s.counts.add(l.PostID, delta)
}

func (s *PostStore) HasLiked(postID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.liked[postID]
}

// LikesCount returns the like count of postID, and false if it was never
// loaded.
func (s *PostStore) LikesCount(postID string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts.get(postID)
}

func (s *PostStore) IsPending(postID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending.has(postRef(postID))
}

func (s *PostStore) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}
