package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Socheema/Framez-sub000/internal/netexec"
	"github.com/Socheema/Framez-sub000/internal/realtime"
	"github.com/Socheema/Framez-sub000/store/follow"
	"github.com/Socheema/Framez-sub000/store/like"
	"github.com/Socheema/Framez-sub000/store/message"
)

var errConnReset = errors.New("connection reset by peer")

func newExecutor() *netexec.Executor {
	cfg := netexec.Config{
		Retry:    netexec.RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Millisecond},
		Timeout:  time.Second,
		CacheTTL: time.Minute,
	}
	return netexec.New(cfg, netexec.WithSleep(func(context.Context, time.Duration) error { return nil }))
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// newWatchedHub returns a hub and a subscriber on it, both closed when the
// test ends.
func newWatchedHub(t *testing.T) (*realtime.Hub, *realtime.Subscriber) {
	t.Helper()
	hub := realtime.NewHub(nil)
	sub := realtime.NewSubscriber(hub, nil)
	t.Cleanup(func() {
		sub.Close()
		hub.Close()
	})
	return hub, sub
}

// drained waits until every published event was handled.
func drained(t *testing.T, hub *realtime.Hub) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := hub.Stats()
		return st["delivered"] >= st["enqueued"]
	}, 2*time.Second, 5*time.Millisecond)
}

// gatedFollows blocks every insert until release is closed.
type gatedFollows struct {
	follow.Store
	inserts atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func newGatedFollows(store follow.Store) *gatedFollows {
	return &gatedFollows{Store: store, entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (g *gatedFollows) Insert(ctx context.Context, followerID, followingID string) error {
	g.inserts.Add(1)
	g.entered <- struct{}{}
	<-g.release
	return g.Store.Insert(ctx, followerID, followingID)
}

type failingFollows struct {
	follow.Store
	inserts atomic.Int32
}

func (f *failingFollows) Insert(context.Context, string, string) error {
	f.inserts.Add(1)
	return errConnReset
}

func (f *failingFollows) Delete(context.Context, string, string) error { return errConnReset }

type failingLikes struct {
	like.Store
}

func (failingLikes) Insert(context.Context, string, string) error { return errConnReset }

func (failingLikes) Delete(context.Context, string, string) error { return errConnReset }

// laggingLikeCount reports zero likes for every post regardless of rows.
type laggingLikeCount struct {
	failingLikes
}

func (laggingLikeCount) Count(context.Context, string) (int, error) { return 0, nil }

type failingMessages struct {
	message.Store
	inserts atomic.Int32
}

func (f *failingMessages) Insert(context.Context, *message.Message) error {
	f.inserts.Add(1)
	return errConnReset
}

type gatedMessages struct {
	message.Store
	entered chan struct{}
	release chan struct{}
}

func (g *gatedMessages) Insert(ctx context.Context, msg *message.Message) error {
	g.entered <- struct{}{}
	<-g.release
	return g.Store.Insert(ctx, msg)
}

// heldReads blocks MarkRead on one conversation until release is closed.
type heldReads struct {
	message.Store
	conversationID string
	entered        chan struct{}
	release        chan struct{}
}

func (h *heldReads) MarkRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	if conversationID == h.conversationID {
		h.entered <- struct{}{}
		<-h.release
	}
	return h.Store.MarkRead(ctx, conversationID, readerID)
}

// staleCounts keeps reporting the unread counts captured by freeze, like a
// server whose counters lag behind its rows.
type staleCounts struct {
	message.Store
	mu     sync.Mutex
	frozen map[string]int
}

func (s *staleCounts) freeze(counts map[string]int) {
	s.mu.Lock()
	s.frozen = counts
	s.mu.Unlock()
}

func (s *staleCounts) snapshot() (map[string]int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frozen, s.frozen != nil
}

func (s *staleCounts) CountUnread(ctx context.Context, conversationID, readerID string) (int, error) {
	if frozen, ok := s.snapshot(); ok {
		return frozen[conversationID], nil
	}
	return s.Store.CountUnread(ctx, conversationID, readerID)
}

func (s *staleCounts) CountUnreadByConversation(ctx context.Context, ids []string, readerID string) (map[string]int, error) {
	frozen, ok := s.snapshot()
	if !ok {
		return s.Store.CountUnreadByConversation(ctx, ids, readerID)
	}
	out := make(map[string]int)
	for _, id := range ids {
		if n := frozen[id]; n > 0 {
			out[id] = n
		}
	}
	return out, nil
}
