package reconcile

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Socheema/Framez-sub000/internal/mutation"
	"github.com/Socheema/Framez-sub000/internal/realtime"
	"github.com/Socheema/Framez-sub000/store/follow"
)

type FollowStatus int

const (
	StatusUnknown FollowStatus = iota
	StatusFollowing
	StatusNotFollowing
)

func (s FollowStatus) String() string {
	switch s {
	case StatusFollowing:
		return "following"
	case StatusNotFollowing:
		return "not_following"
	default:
		return "unknown"
	}
}

// FollowStore tracks whether the signed-in user follows other users, and
// the follower and following counts of every user it has loaded.
type FollowStore struct {
	me  string
	svc *mutation.FollowService
	sub *realtime.Subscriber
	log *zap.Logger

	mu        sync.RWMutex
	status    map[string]FollowStatus
	followers counter
	following counter
	pending   pendingSet
	err       error
}

// NewFollowStore creates the store for userID. sub may be nil, in which
// case Watch fails.
func NewFollowStore(userID string, svc *mutation.FollowService, sub *realtime.Subscriber, opts Options) *FollowStore {
	opts = opts.withDefaults()
	s := &FollowStore{
		me:  userID,
		svc: svc,
		sub: sub,
		log: opts.Log.With(zap.String("store", "follow")),
	}
	s.resetLocked()
	return s
}

func (s *FollowStore) resetLocked() {
	s.status = make(map[string]FollowStatus)
	s.followers = make(counter)
	s.following = make(counter)
	s.pending = make(pendingSet)
	s.err = nil
}

// Reset drops the snapshot. Operations still in flight finish against the
// new, empty state.
func (s *FollowStore) Reset() {
	if s.sub != nil {
		s.sub.Unsubscribe(ScopeFollows)
	}
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
}

// Load seeds the status of every user the signed-in user follows, plus
// their own counts. Users previously seen as followed but missing from the
// server list flip to not following unless an operation on them is pending.
func (s *FollowStore) Load(ctx context.Context) error {
	res := s.svc.ListFollowing(ctx, s.me)
	if res.Failed() {
		return s.fail(fmt.Errorf("load following: %w", res.Err))
	}
	followed := make(map[string]bool, len(res.Value))
	for _, id := range res.Value {
		followed[id] = true
	}

	s.mu.Lock()
	for id, st := range s.status {
		if st == StatusFollowing && !followed[id] && !s.pending.has(followRef(id)) {
			s.status[id] = StatusNotFollowing
		}
	}
	for id := range followed {
		if !s.pending.has(followRef(id)) {
			s.status[id] = StatusFollowing
		}
	}
	s.mu.Unlock()

	return s.LoadCounts(ctx, s.me)
}

// LoadStatus asks the server whether the signed-in user follows targetID.
func (s *FollowStore) LoadStatus(ctx context.Context, targetID string) error {
	res := s.svc.IsFollowing(ctx, s.me, targetID)
	if res.Failed() {
		return s.fail(fmt.Errorf("load follow status of %s: %w", targetID, res.Err))
	}
	s.mu.Lock()
	if !s.pending.has(followRef(targetID)) {
		s.status[targetID] = statusOf(res.Value)
	}
	s.mu.Unlock()
	return nil
}

// LoadCounts replaces the tracked counts of userID with the server's.
func (s *FollowStore) LoadCounts(ctx context.Context, userID string) error {
	res := s.svc.Counts(ctx, userID)
	if res.Failed() {
		return s.fail(fmt.Errorf("load follow counts of %s: %w", userID, res.Err))
	}
	s.mu.Lock()
	s.followers[userID] = res.Value.Followers
	s.following[userID] = res.Value.Following
	s.mu.Unlock()
	return nil
}

func statusOf(following bool) FollowStatus {
	if following {
		return StatusFollowing
	}
	return StatusNotFollowing
}

// RequestFollow makes the signed-in user follow targetID. A call while an
// operation on targetID is in flight, or when targetID is already followed,
// succeeds without touching the network.
func (s *FollowStore) RequestFollow(ctx context.Context, targetID string) error {
	return s.request(ctx, targetID, true)
}

// RequestUnfollow is the inverse of RequestFollow.
func (s *FollowStore) RequestUnfollow(ctx context.Context, targetID string) error {
	return s.request(ctx, targetID, false)
}

func (s *FollowStore) request(ctx context.Context, targetID string, add bool) error {
	ref := followRef(targetID)
	want := statusOf(add)
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
	prev := s.status[targetID]
	if prev == want {
		s.mu.Unlock()
		return nil
	}
	s.status[targetID] = want
	prevFollowers, trackedFollowers := s.followers.swap(targetID, delta)
	prevFollowing, trackedFollowing := s.following.swap(s.me, delta)
	s.err = nil
	s.mu.Unlock()

	var res mutation.Result[struct{}]
	if add {
		res = s.svc.Follow(ctx, s.me, targetID)
	} else {
		res = s.svc.Unfollow(ctx, s.me, targetID)
	}

	if res.Failed() {
		s.mu.Lock()
		s.status[targetID] = prev
		s.followers.restore(targetID, prevFollowers, trackedFollowers)
		s.following.restore(s.me, prevFollowing, trackedFollowing)
		s.err = res.Err
		s.mu.Unlock()
		s.log.Warn("follow change rolled back",
			zap.String("target", targetID),
			zap.Bool("follow", add),
			zap.Stringer("kind", res.Kind()),
			zap.Error(res.Err))
		return res.Err
	}

	// Conflict and NotFound both mean the server already matches.
	s.refreshCounts(ctx, targetID)
	return nil
}

// refreshCounts replaces the optimistic counts of both ends of an edge with
// the server's. Failures keep the optimistic values.
func (s *FollowStore) refreshCounts(ctx context.Context, targetID string) {
	for _, id := range []string{targetID, s.me} {
		res := s.svc.Counts(ctx, id)
		if res.Failed() {
			s.log.Warn("refresh follow counts", zap.String("user", id), zap.Error(res.Err))
			continue
		}
		s.mu.Lock()
		s.followers[id] = res.Value.Followers
		s.following[id] = res.Value.Following
		s.mu.Unlock()
	}
}

func (s *FollowStore) fail(err error) error {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	return err
}

// Watch subscribes to follow edge changes so that other users' actions
// show up in tracked counts without a reload.
func (s *FollowStore) Watch(ctx context.Context) error {
	if s.sub == nil {
		return fmt.Errorf("watch follows: no subscriber")
	}
	return s.sub.Subscribe(ctx, ScopeFollows, realtime.Filter{Table: realtime.TableFollows}, s.handleEdge)
}

func (s *FollowStore) handleEdge(_ context.Context, evt realtime.Event) {
	var delta int
	switch evt.Op {
	case realtime.OpInsert:
		delta = 1
	case realtime.OpDelete:
		delta = -1
	default:
		return
	}
	var edge follow.Edge
	if err := evt.Decode(&edge); err != nil {
		s.log.Warn("undecodable follow event", zap.Error(err))
		return
	}
	s.svc.Invalidate(edge.FollowerID, edge.FollowingID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if edge.FollowerID == s.me {
		target := edge.FollowingID
		// The local overlay wins while our own call is in flight; its
		// completion refreshes counts from the server.
		if s.pending.has(followRef(target)) {
			return
		}
		want := statusOf(delta > 0)
		if s.status[target] == want {
			return
		}
		// Changed from another session of the same user.
		s.status[target] = want
		s.followers.add(target, delta)
		s.following.add(s.me, delta)
		return
	}

	if s.pending.has(followRef(edge.FollowingID)) {
		return
	}
	s.followers.add(edge.FollowingID, delta)
	s.following.add(edge.FollowerID, delta)
}

func (s *FollowStore) Status(targetID string) FollowStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status[targetID]
}

func (s *FollowStore) IsFollowing(targetID string) bool {
	return s.Status(targetID) == StatusFollowing
}

// IsPending reports whether an operation on targetID is in flight.
func (s *FollowStore) IsPending(targetID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending.has(followRef(targetID))
}

// FollowerCount returns how many users follow userID, and false if the
// count was never loaded.
func (s *FollowStore) FollowerCount(userID string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.followers.get(userID)
}

func (s *FollowStore) FollowingCount(userID string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.following.get(userID)
}

// Err returns the error of the last failed operation, cleared by the next
// request.
func (s *FollowStore) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}
