package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/Socheema/Framez-sub000/internal/config"
	"github.com/Socheema/Framez-sub000/internal/realtime"
	"github.com/Socheema/Framez-sub000/store/conversation"
	"github.com/Socheema/Framez-sub000/store/follow"
	"github.com/Socheema/Framez-sub000/store/like"
	"github.com/Socheema/Framez-sub000/store/memory"
	"github.com/Socheema/Framez-sub000/store/message"
)

// Backend is the remote side of the engine: the four stores and, when
// available, the source of their change events.
type Backend struct {
	Follows       follow.Store
	Likes         like.Store
	Conversations conversation.Store
	Messages      message.Store
	// Events is nil when change events are not available.
	Events realtime.Source

	closers []func() error
}

// Close releases whatever the backend opened.
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// OpenDB opens and pings the Postgres database of cfg.
func OpenDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// OpenPostgres builds the SQL stores. Change events come from the relay at
// cfg.Realtime.URL, authenticated with token; without a URL there are none.
func OpenPostgres(ctx context.Context, cfg *config.Config, token string, log *zap.Logger) (*Backend, error) {
	db, err := OpenDB(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	b := &Backend{
		Follows:       follow.NewSQLStore(db),
		Likes:         like.NewSQLStore(db),
		Conversations: conversation.NewSQLStore(db),
		Messages:      message.NewSQLStore(db),
		closers:       []func() error{db.Close},
	}
	if cfg.Realtime.URL != "" {
		b.Events = &realtime.WSSource{
			URL:               cfg.Realtime.URL,
			Token:             token,
			ReconnectInterval: cfg.Realtime.ReconnectInterval,
			Log:               log.Named("realtime"),
		}
	} else {
		log.Info("no realtime url configured, change events disabled")
	}
	return b, nil
}

// NewMemoryBackend builds in-process stores whose writes are published on
// a hub, which also serves as the event source.
func NewMemoryBackend(log *zap.Logger) (*Backend, *realtime.Hub) {
	hub := realtime.NewHub(log.Named("hub"))
	db := memory.New(hub)
	b := &Backend{
		Follows:       db.Follows(),
		Likes:         db.Likes(),
		Conversations: db.Conversations(),
		Messages:      db.Messages(),
		Events:        hub,
		closers: []func() error{func() error {
			hub.Close()
			return nil
		}},
	}
	return b, hub
}
