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

func TestToggleLikeReflectsServerCount(t *testing.T) {
	ctx := context.Background()
	db := memory.New(nil)
	require.NoError(t, db.Likes().Insert(ctx, "carol", "post-1"))
	ps := NewPostStore("alice", mutation.NewLikeService(newExecutor(), db.Likes(), mutation.Timeouts{}), nil, Options{})

	require.NoError(t, ps.Load(ctx, "post-1"))
	n, ok := ps.LikesCount("post-1")
	require.True(t, ok)
	assert.Equal(t, 1, n)
	assert.False(t, ps.HasLiked("post-1"))

	require.NoError(t, ps.ToggleLike(ctx, "post-1"))
	assert.True(t, ps.HasLiked("post-1"))
	n, _ = ps.LikesCount("post-1")
	assert.Equal(t, 2, n)

	// A fresh load must not be served the cached pre-like count.
	require.NoError(t, ps.Load(ctx, "post-1"))
	n, _ = ps.LikesCount("post-1")
	assert.Equal(t, 2, n)

	require.NoError(t, ps.ToggleLike(ctx, "post-1"))
	assert.False(t, ps.HasLiked("post-1"))
	n, _ = ps.LikesCount("post-1")
	assert.Equal(t, 1, n)
}

func TestRequestLikeRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	db := memory.New(nil)
	ps := NewPostStore("alice", mutation.NewLikeService(newExecutor(), failingLikes{db.Likes()}, mutation.Timeouts{}), nil, Options{})
	require.NoError(t, ps.Load(ctx, "post-1"))

	err := ps.RequestLike(ctx, "post-1")
	assert.ErrorIs(t, err, errConnReset)
	assert.False(t, ps.HasLiked("post-1"))
	n, _ := ps.LikesCount("post-1")
	assert.Equal(t, 0, n)
	assert.False(t, ps.IsPending("post-1"))
	assert.ErrorIs(t, ps.Err(), errConnReset)
}

func TestRequestUnlikeRollbackRestoresStaleZeroCount(t *testing.T) {
	ctx := context.Background()
	db := memory.New(nil)
	require.NoError(t, db.Likes().Insert(ctx, "alice", "post-1"))
	store := laggingLikeCount{failingLikes{db.Likes()}}
	ps := NewPostStore("alice", mutation.NewLikeService(newExecutor(), store, mutation.Timeouts{}), nil, Options{})
	require.NoError(t, ps.Load(ctx, "post-1"))
	require.True(t, ps.HasLiked("post-1"))

	err := ps.RequestUnlike(ctx, "post-1")
	assert.ErrorIs(t, err, errConnReset)
	assert.True(t, ps.HasLiked("post-1"))
	n, ok := ps.LikesCount("post-1")
	require.True(t, ok)
	assert.Equal(t, 0, n)
}

func TestPostStoreAppliesOtherUsersLikes(t *testing.T) {
	ctx := context.Background()
	hub, sub := newWatchedHub(t)
	db := memory.New(hub)
	ps := NewPostStore("alice", mutation.NewLikeService(newExecutor(), db.Likes(), mutation.Timeouts{}), sub, Options{})
	require.NoError(t, ps.Load(ctx, "post-1"))
	require.NoError(t, ps.Watch(ctx))

	require.NoError(t, db.Likes().Insert(ctx, "bob", "post-1"))
	require.NoError(t, db.Likes().Insert(ctx, "carol", "post-1"))
	require.NoError(t, db.Likes().Insert(ctx, "carol", "post-untracked"))
	assert.Eventually(t, func() bool {
		n, _ := ps.LikesCount("post-1")
		return n == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, ps.RequestLike(ctx, "post-1"))
	drained(t, hub)
	n, _ := ps.LikesCount("post-1")
	assert.Equal(t, 3, n)
	_, tracked := ps.LikesCount("post-untracked")
	assert.False(t, tracked)
}
