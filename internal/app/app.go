// Package app assembles the executor, the mutation services and the
// reconciling stores for one signed-in user.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Socheema/Framez-sub000/internal/config"
	"github.com/Socheema/Framez-sub000/internal/mutation"
	"github.com/Socheema/Framez-sub000/internal/netexec"
	"github.com/Socheema/Framez-sub000/internal/realtime"
	"github.com/Socheema/Framez-sub000/internal/reconcile"
	"github.com/Socheema/Framez-sub000/internal/suppress"
)

type App struct {
	UserID string

	Exec          *netexec.Executor
	FollowService *mutation.FollowService
	LikeService   *mutation.LikeService
	Messaging     *mutation.MessageService

	Follows *reconcile.FollowStore
	Posts   *reconcile.PostStore
	Inbox   *reconcile.MessageStore

	backend *Backend
	sub     *realtime.Subscriber
	log     *zap.Logger
}

// New wires an App for userID on top of b. reg may be nil.
func New(userID string, b *Backend, cfg *config.Config, log *zap.Logger, reg prometheus.Registerer) (*App, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("user_id", userID))

	x := netexec.New(cfg.Network,
		netexec.WithLogger(log.Named("netexec")),
		netexec.WithMetrics(netexec.NewMetrics(reg)),
	)

	var sub *realtime.Subscriber
	if b.Events != nil {
		sub = realtime.NewSubscriber(b.Events, log.Named("subscriber"))
	}

	opts := cfg.Reconcile.Options
	opts.Log = log.Named("reconcile")

	a := &App{
		UserID:        userID,
		Exec:          x,
		FollowService: mutation.NewFollowService(x, b.Follows, cfg.Timeouts),
		LikeService:   mutation.NewLikeService(x, b.Likes, cfg.Timeouts),
		Messaging:     mutation.NewMessageService(x, b.Conversations, b.Messages, cfg.Timeouts, log.Named("messages")),
		backend:       b,
		sub:           sub,
		log:           log,
	}
	a.Follows = reconcile.NewFollowStore(userID, a.FollowService, sub, opts)
	a.Posts = reconcile.NewPostStore(userID, a.LikeService, sub, opts)
	a.Inbox = reconcile.NewMessageStore(userID, a.Messaging, suppress.New(cfg.SuppressionWindow()), sub, opts)
	return a, nil
}

// Live reports whether change events are available.
func (a *App) Live() bool { return a.sub != nil }

// Watch starts the follow, like and unread subscriptions.
func (a *App) Watch(ctx context.Context) error {
	if !a.Live() {
		return errors.New("watch: change events are not available")
	}
	if err := a.Follows.Watch(ctx); err != nil {
		return err
	}
	if err := a.Posts.Watch(ctx); err != nil {
		return err
	}
	return a.Inbox.WatchUnread(ctx)
}

// Load seeds the follow snapshot and the inbox concurrently.
func (a *App) Load(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Follows.Load(ctx) })
	g.Go(func() error { return a.Inbox.LoadConversations(ctx) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("load: %w", err)
	}
	return nil
}

// Reset is what signing out does: every store forgets its snapshot, every
// subscription ends and the result cache is emptied.
func (a *App) Reset() {
	a.Follows.Reset()
	a.Posts.Reset()
	a.Inbox.Reset()
	if a.sub != nil {
		a.sub.Close()
	}
	a.Exec.ClearCache()
	a.log.Info("session reset")
}

// Close resets the App and releases the backend.
func (a *App) Close() error {
	a.Reset()
	return a.backend.Close()
}
