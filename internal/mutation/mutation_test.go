package mutation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Socheema/Framez-sub000/internal/netexec"
	"github.com/Socheema/Framez-sub000/store/conversation"
	"github.com/Socheema/Framez-sub000/store/follow"
	"github.com/Socheema/Framez-sub000/store/like"
	"github.com/Socheema/Framez-sub000/store/memory"
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

// countingFollows counts inserts so tests can assert no network call happened.
type countingFollows struct {
	follow.Store
	inserts atomic.Int32
}

func (c *countingFollows) Insert(ctx context.Context, followerID, followingID string) error {
	c.inserts.Add(1)
	return c.Store.Insert(ctx, followerID, followingID)
}

type countingLikes struct {
	like.Store
	counts atomic.Int32
}

func (c *countingLikes) Count(ctx context.Context, postID string) (int, error) {
	c.counts.Add(1)
	return c.Store.Count(ctx, postID)
}

type failingMessages struct {
	message.Store
	inserts atomic.Int32
}

func (f *failingMessages) Insert(context.Context, *message.Message) error {
	f.inserts.Add(1)
	return errConnReset
}

type batchCountingMessages struct {
	message.Store
	batches atomic.Int32
	singles atomic.Int32
}

func (b *batchCountingMessages) CountUnreadByConversation(ctx context.Context, ids []string, readerID string) (map[string]int, error) {
	b.batches.Add(1)
	return b.Store.CountUnreadByConversation(ctx, ids, readerID)
}

func (b *batchCountingMessages) CountUnread(ctx context.Context, id, readerID string) (int, error) {
	b.singles.Add(1)
	return b.Store.CountUnread(ctx, id, readerID)
}

// staleLookups reports the first n GetBetween calls as misses, like a
// client whose lookup ran just before another client's insert landed.
type staleLookups struct {
	conversation.Store
	n atomic.Int32
}

func (s *staleLookups) GetBetween(ctx context.Context, p1, p2 string) (*conversation.Conversation, error) {
	if s.n.Add(-1) >= 0 {
		return nil, conversation.ErrConversationNotFound
	}
	return s.Store.GetBetween(ctx, p1, p2)
}

func TestFollowUpdatesCountsAfterCachedRead(t *testing.T) {
	ctx := context.Background()
	db := memory.New(nil)
	svc := NewFollowService(newExecutor(), db.Follows(), Timeouts{})

	before := svc.Counts(ctx, "bob")
	require.Equal(t, OK, before.Outcome)
	assert.Equal(t, Counts{}, before.Value)

	res := svc.Follow(ctx, "alice", "bob")
	require.Equal(t, OK, res.Outcome)

	assert.Equal(t, 1, svc.Counts(ctx, "bob").Value.Followers)
	assert.Equal(t, 1, svc.Counts(ctx, "alice").Value.Following)
	assert.True(t, svc.IsFollowing(ctx, "alice", "bob").Value)
	assert.Equal(t, []string{"bob"}, svc.ListFollowing(ctx, "alice").Value)
}

func TestFollowExistingEdgeIsConflict(t *testing.T) {
	ctx := context.Background()
	store := &countingFollows{Store: memory.New(nil).Follows()}
	svc := NewFollowService(newExecutor(), store, Timeouts{})

	require.Equal(t, OK, svc.Follow(ctx, "alice", "bob").Outcome)
	res := svc.Follow(ctx, "alice", "bob")
	assert.Equal(t, Conflict, res.Outcome)
	assert.True(t, res.Done())
	assert.NoError(t, res.Err)
	assert.EqualValues(t, 2, store.inserts.Load(), "conflicts must not be retried")
}

func TestFollowValidatesBeforeCallingStore(t *testing.T) {
	ctx := context.Background()
	store := &countingFollows{Store: memory.New(nil).Follows()}
	svc := NewFollowService(newExecutor(), store, Timeouts{})

	for _, tc := range []struct{ follower, following string }{
		{"alice", "alice"},
		{"", "bob"},
		{"alice", ""},
	} {
		res := svc.Follow(ctx, tc.follower, tc.following)
		assert.True(t, res.Failed())
		assert.Equal(t, netexec.KindValidation, res.Kind())
	}
	assert.Zero(t, store.inserts.Load())
}

func TestUnfollowMissingEdgeIsNotFound(t *testing.T) {
	svc := NewFollowService(newExecutor(), memory.New(nil).Follows(), Timeouts{})
	res := svc.Unfollow(context.Background(), "alice", "bob")
	assert.Equal(t, NotFound, res.Outcome)
	assert.False(t, res.Failed())
}

func TestLikeEvictsCachedCount(t *testing.T) {
	ctx := context.Background()
	store := &countingLikes{Store: memory.New(nil).Likes()}
	svc := NewLikeService(newExecutor(), store, Timeouts{})

	assert.Equal(t, 0, svc.LikesCount(ctx, "post-1").Value)
	assert.Equal(t, 0, svc.LikesCount(ctx, "post-1").Value)
	assert.EqualValues(t, 1, store.counts.Load())

	require.Equal(t, OK, svc.Like(ctx, "alice", "post-1").Outcome)

	assert.Equal(t, 1, svc.LikesCount(ctx, "post-1").Value)
	assert.EqualValues(t, 2, store.counts.Load())
	assert.True(t, svc.HasLiked(ctx, "alice", "post-1").Value)

	require.Equal(t, OK, svc.Unlike(ctx, "alice", "post-1").Outcome)
	assert.Equal(t, 0, svc.LikesCount(ctx, "post-1").Value)
	assert.False(t, svc.HasLiked(ctx, "alice", "post-1").Value)
	assert.Equal(t, NotFound, svc.Unlike(ctx, "alice", "post-1").Outcome)
}

func TestGetOrCreateConversationIsOrderIndependent(t *testing.T) {
	ctx := context.Background()
	db := memory.New(nil)
	svc := NewMessageService(newExecutor(), db.Conversations(), db.Messages(), Timeouts{}, nil)

	first := svc.GetOrCreateConversation(ctx, "bob", "alice")
	require.Equal(t, OK, first.Outcome)
	assert.Equal(t, "alice", first.Value.Participant1)
	assert.Equal(t, "bob", first.Value.Participant2)

	second := svc.GetOrCreateConversation(ctx, "alice", "bob")
	require.Equal(t, OK, second.Outcome)
	assert.Equal(t, first.Value.ID, second.Value.ID)

	self := svc.GetOrCreateConversation(ctx, "alice", "alice")
	assert.Equal(t, netexec.KindValidation, self.Kind())
}

func TestGetOrCreateConversationRequeriesAfterDuplicate(t *testing.T) {
	ctx := context.Background()
	db := memory.New(nil)
	other := NewMessageService(newExecutor(), db.Conversations(), db.Messages(), Timeouts{}, nil)
	winner := other.GetOrCreateConversation(ctx, "alice", "bob")
	require.Equal(t, OK, winner.Outcome)

	stale := &staleLookups{Store: db.Conversations()}
	stale.n.Store(1)
	svc := NewMessageService(newExecutor(), stale, db.Messages(), Timeouts{}, nil)

	res := svc.GetOrCreateConversation(ctx, "bob", "alice")
	require.Equal(t, OK, res.Outcome)
	assert.Equal(t, winner.Value.ID, res.Value.ID)
}

func TestGetOrCreateConversationConcurrentClients(t *testing.T) {
	ctx := context.Background()
	db := memory.New(nil)

	const clients = 8
	ids := make([]string, clients)
	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stale := &staleLookups{Store: db.Conversations()}
			stale.n.Store(1)
			svc := NewMessageService(newExecutor(), stale, db.Messages(), Timeouts{}, nil)
			a, b := "alice", "bob"
			if i%2 == 1 {
				a, b = b, a
			}
			res := svc.GetOrCreateConversation(ctx, a, b)
			if assert.Equal(t, OK, res.Outcome) {
				ids[i] = res.Value.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}
	convos, err := db.Conversations().ListForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, convos, 1)
}

func TestSendMessageValidation(t *testing.T) {
	ctx := context.Background()
	db := memory.New(nil)
	svc := NewMessageService(newExecutor(), db.Conversations(), db.Messages(), Timeouts{}, nil)
	convo := svc.GetOrCreateConversation(ctx, "alice", "bob").Value

	cases := map[string]struct {
		convo  *conversation.Conversation
		sender string
		text   string
	}{
		"no conversation": {nil, "alice", "hi"},
		"blank text":      {convo, "alice", "   "},
		"too long":        {convo, "alice", strings.Repeat("é", MaxMessageLength+1)},
		"outsider":        {convo, "carol", "hi"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			res := svc.SendMessage(ctx, tc.convo, tc.sender, tc.text)
			assert.True(t, res.Failed())
			assert.Equal(t, netexec.KindValidation, res.Kind())
		})
	}

	res := svc.SendMessage(ctx, convo, "alice", strings.Repeat("é", MaxMessageLength))
	assert.Equal(t, OK, res.Outcome)
}

func TestSendMessageEvictsMessagesAndInbox(t *testing.T) {
	ctx := context.Background()
	db := memory.New(nil)
	svc := NewMessageService(newExecutor(), db.Conversations(), db.Messages(), Timeouts{}, nil)
	convo := svc.GetOrCreateConversation(ctx, "alice", "bob").Value

	assert.Empty(t, svc.ListMessages(ctx, convo.ID).Value)
	require.Len(t, svc.ListConversations(ctx, "bob").Value, 1)

	sent := svc.SendMessage(ctx, convo, "alice", "  hello  ")
	require.Equal(t, OK, sent.Outcome)
	assert.Equal(t, "hello", sent.Value.Text)
	assert.NotEmpty(t, sent.Value.ID)

	msgs := svc.ListMessages(ctx, convo.ID).Value
	require.Len(t, msgs, 1)
	assert.Equal(t, sent.Value.ID, msgs[0].ID)

	inbox := svc.ListConversations(ctx, "bob").Value
	require.Len(t, inbox, 1)
	assert.Equal(t, sent.Value.CreatedAt, inbox[0].UpdatedAt)
}

func TestSendMessageTransientFailureIsRetriedThenSurfaced(t *testing.T) {
	ctx := context.Background()
	db := memory.New(nil)
	msgs := &failingMessages{Store: db.Messages()}
	svc := NewMessageService(newExecutor(), db.Conversations(), msgs, Timeouts{}, nil)
	convo := svc.GetOrCreateConversation(ctx, "alice", "bob").Value

	res := svc.SendMessage(ctx, convo, "alice", "hello")
	require.True(t, res.Failed())
	assert.Equal(t, netexec.KindTransient, res.Kind())
	assert.ErrorIs(t, res.Err, errConnReset)
	assert.EqualValues(t, 3, msgs.inserts.Load())
}

func TestUnreadCountsUseOneQuery(t *testing.T) {
	ctx := context.Background()
	db := memory.New(nil)
	msgs := &batchCountingMessages{Store: db.Messages()}
	svc := NewMessageService(newExecutor(), db.Conversations(), msgs, Timeouts{}, nil)

	withBob := svc.GetOrCreateConversation(ctx, "alice", "bob").Value
	withCarol := svc.GetOrCreateConversation(ctx, "alice", "carol").Value
	require.Equal(t, OK, svc.SendMessage(ctx, withBob, "bob", "one").Outcome)
	require.Equal(t, OK, svc.SendMessage(ctx, withBob, "bob", "two").Outcome)
	require.Equal(t, OK, svc.SendMessage(ctx, withBob, "alice", "mine").Outcome)

	counts := svc.UnreadCounts(ctx, []string{withBob.ID, withCarol.ID}, "alice")
	require.Equal(t, OK, counts.Outcome)
	assert.Equal(t, map[string]int{withBob.ID: 2, withCarol.ID: 0}, counts.Value)

	total := svc.TotalUnread(ctx, "alice")
	require.Equal(t, OK, total.Outcome)
	assert.Equal(t, 2, total.Value)

	assert.EqualValues(t, 2, msgs.batches.Load())
	assert.Zero(t, msgs.singles.Load())
}

func TestMarkConversationReadClearsUnread(t *testing.T) {
	ctx := context.Background()
	db := memory.New(nil)
	svc := NewMessageService(newExecutor(), db.Conversations(), db.Messages(), Timeouts{}, nil)
	convo := svc.GetOrCreateConversation(ctx, "alice", "bob").Value
	require.Equal(t, OK, svc.SendMessage(ctx, convo, "bob", "ping").Outcome)

	msgs := svc.ListMessages(ctx, convo.ID).Value
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].Read)
	assert.Equal(t, 1, svc.CountUnread(ctx, convo.ID, "alice").Value)

	res := svc.MarkConversationRead(ctx, convo.ID, "alice")
	require.Equal(t, OK, res.Outcome)
	assert.EqualValues(t, 1, res.Value)

	assert.Equal(t, 0, svc.CountUnread(ctx, convo.ID, "alice").Value)
	assert.True(t, svc.ListMessages(ctx, convo.ID).Value[0].Read)
}
