package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Socheema/Framez-sub000/internal/mutation"
	"github.com/Socheema/Framez-sub000/store/memory"
)

func counts(t *testing.T, fs *FollowStore, followersOf, followingOf string) (int, int) {
	t.Helper()
	followers, ok := fs.FollowerCount(followersOf)
	require.True(t, ok, "followers of %s not tracked", followersOf)
	following, ok := fs.FollowingCount(followingOf)
	require.True(t, ok, "following of %s not tracked", followingOf)
	return followers, following
}

func TestRequestFollowUpdatesCountsOnce(t *testing.T) {
	ctx := context.Background()
	db := memory.New(nil)
	require.NoError(t, db.Follows().Insert(ctx, "carol", "bob"))
	store := newGatedFollows(db.Follows())
	close(store.release)
	fs := NewFollowStore("alice", mutation.NewFollowService(newExecutor(), store, mutation.Timeouts{}), nil, Options{})

	require.NoError(t, fs.Load(ctx))
	require.NoError(t, fs.LoadCounts(ctx, "bob"))
	require.NoError(t, fs.LoadStatus(ctx, "bob"))
	assert.Equal(t, StatusNotFollowing, fs.Status("bob"))
	followersBefore, followingBefore := counts(t, fs, "bob", "alice")

	require.NoError(t, fs.RequestFollow(ctx, "bob"))

	followers, following := counts(t, fs, "bob", "alice")
	assert.Equal(t, followersBefore+1, followers)
	assert.Equal(t, followingBefore+1, following)
	assert.True(t, fs.IsFollowing("bob"))

	require.NoError(t, fs.RequestFollow(ctx, "bob"))
	assert.True(t, fs.IsFollowing("bob"))
	assert.EqualValues(t, 1, store.inserts.Load())
	followers, following = counts(t, fs, "bob", "alice")
	assert.Equal(t, followersBefore+1, followers)
	assert.Equal(t, followingBefore+1, following)
}

func TestRequestFollowWhilePendingIsNoop(t *testing.T) {
	ctx := context.Background()
	db := memory.New(nil)
	store := newGatedFollows(db.Follows())
	fs := NewFollowStore("alice", mutation.NewFollowService(newExecutor(), store, mutation.Timeouts{}), nil, Options{})
	require.NoError(t, fs.LoadCounts(ctx, "alice"))
	require.NoError(t, fs.LoadCounts(ctx, "bob"))

	done := make(chan error, 1)
	go func() { done <- fs.RequestFollow(ctx, "bob") }()
	<-store.entered

	assert.True(t, fs.IsPending("bob"))
	assert.True(t, fs.IsFollowing("bob"))
	require.NoError(t, fs.RequestFollow(ctx, "bob"))
	followers, following := counts(t, fs, "bob", "alice")
	assert.Equal(t, 1, followers)
	assert.Equal(t, 1, following)

	close(store.release)
	require.NoError(t, <-done)

	assert.False(t, fs.IsPending("bob"))
	assert.EqualValues(t, 1, store.inserts.Load())
	followers, following = counts(t, fs, "bob", "alice")
	assert.Equal(t, 1, followers)
	assert.Equal(t, 1, following)
}

func TestRequestFollowRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	db := memory.New(nil)
	require.NoError(t, db.Follows().Insert(ctx, "carol", "bob"))
	store := &failingFollows{Store: db.Follows()}
	fs := NewFollowStore("alice", mutation.NewFollowService(newExecutor(), store, mutation.Timeouts{}), nil, Options{})
	require.NoError(t, fs.LoadCounts(ctx, "alice"))
	require.NoError(t, fs.LoadCounts(ctx, "bob"))
	require.NoError(t, fs.LoadStatus(ctx, "bob"))

	err := fs.RequestFollow(ctx, "bob")
	require.Error(t, err)
	assert.ErrorIs(t, err, errConnReset)
	assert.EqualValues(t, 3, store.inserts.Load())

	assert.Equal(t, StatusNotFollowing, fs.Status("bob"))
	followers, following := counts(t, fs, "bob", "alice")
	assert.Equal(t, 1, followers)
	assert.Equal(t, 0, following)
	assert.False(t, fs.IsPending("bob"))
	assert.ErrorIs(t, fs.Err(), errConnReset)
}

func TestRequestUnfollowRollbackRestoresStaleZeroCounts(t *testing.T) {
	ctx := context.Background()
	db := memory.New(nil)
	store := &failingFollows{Store: db.Follows()}
	fs := NewFollowStore("alice", mutation.NewFollowService(newExecutor(), store, mutation.Timeouts{}), nil, Options{})
	require.NoError(t, fs.LoadCounts(ctx, "alice"))
	require.NoError(t, fs.LoadCounts(ctx, "bob"))

	// Another session follows bob after the counts were cached.
	require.NoError(t, db.Follows().Insert(ctx, "alice", "bob"))
	require.NoError(t, fs.LoadStatus(ctx, "bob"))
	require.Equal(t, StatusFollowing, fs.Status("bob"))
	followersBefore, followingBefore := counts(t, fs, "bob", "alice")
	require.Equal(t, 0, followersBefore)
	require.Equal(t, 0, followingBefore)

	err := fs.RequestUnfollow(ctx, "bob")
	assert.ErrorIs(t, err, errConnReset)

	assert.Equal(t, StatusFollowing, fs.Status("bob"))
	followers, following := counts(t, fs, "bob", "alice")
	assert.Equal(t, followersBefore, followers)
	assert.Equal(t, followingBefore, following)
}

func TestRequestUnfollowOfMissingEdgeSettlesOnServerState(t *testing.T) {
	ctx := context.Background()
	db := memory.New(nil)
	fs := NewFollowStore("alice", mutation.NewFollowService(newExecutor(), db.Follows(), mutation.Timeouts{}), nil, Options{})
	require.NoError(t, fs.LoadCounts(ctx, "bob"))

	require.NoError(t, fs.RequestUnfollow(ctx, "bob"))
	assert.Equal(t, StatusNotFollowing, fs.Status("bob"))
	followers, _ := fs.FollowerCount("bob")
	assert.Equal(t, 0, followers)
	assert.NoError(t, fs.Err())
}

func TestFollowStoreAppliesOtherUsersEdges(t *testing.T) {
	ctx := context.Background()
	hub, sub := newWatchedHub(t)
	db := memory.New(hub)
	fs := NewFollowStore("alice", mutation.NewFollowService(newExecutor(), db.Follows(), mutation.Timeouts{}), sub, Options{})
	require.NoError(t, fs.LoadCounts(ctx, "alice"))
	require.NoError(t, fs.LoadCounts(ctx, "bob"))
	require.NoError(t, fs.Watch(ctx))

	require.NoError(t, db.Follows().Insert(ctx, "carol", "bob"))
	assert.Eventually(t, func() bool {
		n, _ := fs.FollowerCount("bob")
		return n == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, db.Follows().Delete(ctx, "carol", "bob"))
	assert.Eventually(t, func() bool {
		n, _ := fs.FollowerCount("bob")
		return n == 0
	}, time.Second, 5*time.Millisecond)

	// An edge created by this user elsewhere updates status as well.
	require.NoError(t, db.Follows().Insert(ctx, "alice", "bob"))
	assert.Eventually(t, func() bool { return fs.IsFollowing("bob") }, time.Second, 5*time.Millisecond)
	drained(t, hub)
	followers, following := counts(t, fs, "bob", "alice")
	assert.Equal(t, 1, followers)
	assert.Equal(t, 1, following)
}

func TestFollowStoreIgnoresEchoOfOwnRequest(t *testing.T) {
	ctx := context.Background()
	hub, sub := newWatchedHub(t)
	db := memory.New(hub)
	fs := NewFollowStore("alice", mutation.NewFollowService(newExecutor(), db.Follows(), mutation.Timeouts{}), sub, Options{})
	require.NoError(t, fs.LoadCounts(ctx, "alice"))
	require.NoError(t, fs.LoadCounts(ctx, "bob"))
	require.NoError(t, fs.Watch(ctx))

	require.NoError(t, fs.RequestFollow(ctx, "bob"))
	drained(t, hub)

	followers, following := counts(t, fs, "bob", "alice")
	assert.Equal(t, 1, followers)
	assert.Equal(t, 1, following)
}

func TestFollowStoreReset(t *testing.T) {
	ctx := context.Background()
	_, sub := newWatchedHub(t)
	db := memory.New(nil)
	fs := NewFollowStore("alice", mutation.NewFollowService(newExecutor(), db.Follows(), mutation.Timeouts{}), sub, Options{})
	require.NoError(t, fs.Watch(ctx))
	require.NoError(t, fs.RequestFollow(ctx, "bob"))

	fs.Reset()

	assert.Equal(t, StatusUnknown, fs.Status("bob"))
	assert.False(t, sub.Active(ScopeFollows))
	_, ok := fs.FollowerCount("bob")
	assert.False(t, ok)
}
