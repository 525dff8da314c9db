package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PGListener turns Postgres NOTIFY payloads written by the change trigger
// into events on a Hub.
type PGListener struct {
	connStr string
	channel string
	hub     *Hub
	log     *zap.Logger
}

func NewPGListener(connStr, channel string, hub *Hub, log *zap.Logger) *PGListener {
	if log == nil {
		log = zap.NewNop()
	}
	return &PGListener{connStr: connStr, channel: channel, hub: hub, log: log}
}

// Run listens until ctx is done.
func (l *PGListener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.connStr, time.Second, time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				l.log.Warn("postgres listener event", zap.Int("event", int(ev)), zap.Error(err))
			}
		})
	defer func() {
		_ = listener.Close()
	}()

	if err := listener.Listen(l.channel); err != nil {
		return fmt.Errorf("listen %s: %w", l.channel, err)
	}
	l.log.Info("listening for changes", zap.String("channel", l.channel))

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			// nil after a reconnect; rows changed meanwhile are not replayed
			if n == nil {
				l.log.Warn("postgres listener reconnected, events may have been missed")
				continue
			}
			l.dispatch(n.Extra)
		case <-ping.C:
			if err := listener.Ping(); err != nil {
				l.log.Warn("postgres listener ping", zap.Error(err))
			}
		}
	}
}

func (l *PGListener) dispatch(payload string) {
	var evt Event
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		l.log.Warn("bad change payload", zap.Error(err))
		return
	}
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	l.hub.Publish(evt)
}
