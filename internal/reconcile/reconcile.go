// Package reconcile holds the client-side snapshot of follow, like and
// messaging state. Stores apply user actions optimistically, call the
// mutation services, and converge on what the server reports either in the
// call result, a confirmation poll, or a change event.
//
// Store state is guarded by one mutex per store that is never held across a
// network call. Operations on one entity are serialized by pending markers
// that are always released in a deferred call.
package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Subscription scopes used on the shared realtime.Subscriber.
const (
	ScopeFollows      = "follows"
	ScopeLikes        = "likes"
	ScopeUnread       = "unread"
	ScopeConversation = "conversation"
)

// unreadGate is the suppression key guarding the global unread refresh.
const unreadGate = "unread"

// Options tune the stores. Zero fields take the defaults.
type Options struct {
	// PendingReadTTL is how long a conversation marked read keeps showing
	// zero unread regardless of what the server reports.
	PendingReadTTL time.Duration `yaml:"pending_read_ttl"`
	// PollInterval, PollAttempts and PollTimeout bound the read
	// confirmation poll.
	PollInterval time.Duration `yaml:"poll_interval"`
	PollAttempts int           `yaml:"poll_attempts"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`

	Log *zap.Logger      `yaml:"-"`
	Now func() time.Time `yaml:"-"`
}

func DefaultOptions() Options {
	return Options{
		PendingReadTTL: 5 * time.Second,
		PollInterval:   300 * time.Millisecond,
		PollAttempts:   10,
		PollTimeout:    3 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PendingReadTTL <= 0 {
		o.PendingReadTTL = d.PendingReadTTL
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.PollAttempts <= 0 {
		o.PollAttempts = d.PollAttempts
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = d.PollTimeout
	}
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Entity references key all per-entity state.
func followRef(targetID string) string { return "follow:" + targetID }
func postRef(postID string) string { return "post:" + postID }
func conversationRef(convID string) string { return "conversation:" + convID }

// pendingSet holds the entities with an operation in flight. Callers hold
// the owning store's lock.
type pendingSet map[string]struct{}

// acquire marks ref pending and reports false if it already was.
func (p pendingSet) acquire(ref string) bool {
	if _, ok := p[ref]; ok {
		return false
	}
	p[ref] = struct{}{}
	return true
}

func (p pendingSet) release(ref string) { delete(p, ref) }

func (p pendingSet) has(ref string) bool {
	_, ok := p[ref]
	return ok
}

// counter is a count the store may or may not be tracking yet.
type counter map[string]int

// add adjusts a tracked count and reports whether it was tracked. Counts
// never go below zero.
func (c counter) add(key string, delta int) bool {
	_, ok := c.swap(key, delta)
	return ok
}

// swap is add that also returns the value it replaced, for restore.
func (c counter) swap(key string, delta int) (int, bool) {
	prev, ok := c[key]
	if !ok {
		return 0, false
	}
	n := prev + delta
	if n < 0 {
		n = 0
	}
	c[key] = n
	return prev, true
}

// restore puts back a value returned by swap. Untracked keys stay untracked.
func (c counter) restore(key string, prev int, tracked bool) {
	if tracked {
		c[key] = prev
	}
}

func (c counter) get(key string) (int, bool) {
	n, ok := c[key]
	return n, ok
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
