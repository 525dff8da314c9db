package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultReconnectInterval = time.Second
	maxReconnectInterval     = 30 * time.Second
)

// WSSource subscribes to a relay server over websockets. Each subscription
// holds its own connection and redials with backoff until closed.
type WSSource struct {
	URL               string
	Token             string
	Dialer            *websocket.Dialer
	ReconnectInterval time.Duration
	Log               *zap.Logger
}

func (w *WSSource) dialer() *websocket.Dialer {
	if w.Dialer != nil {
		return w.Dialer
	}
	return websocket.DefaultDialer
}

func (w *WSSource) logger() *zap.Logger {
	if w.Log != nil {
		return w.Log
	}
	return zap.NewNop()
}

func (w *WSSource) endpoint(filter Filter) (string, error) {
	u, err := url.Parse(w.URL)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("table", filter.Table)
	if filter.Column != "" {
		q.Set("column", filter.Column)
		q.Set("value", filter.Value)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (w *WSSource) dial(ctx context.Context, endpoint string) (*websocket.Conn, error) {
	header := http.Header{}
	if w.Token != "" {
		header.Set("Authorization", "Bearer "+w.Token)
	}
	conn, _, err := w.dialer().DialContext(ctx, endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	return conn, nil
}

// Subscribe dials the relay once and fails if that first dial fails. Later
// disconnects are retried in the background.
func (w *WSSource) Subscribe(ctx context.Context, filter Filter, handler Handler) (Subscription, error) {
	endpoint, err := w.endpoint(filter)
	if err != nil {
		return nil, err
	}
	conn, err := w.dial(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &wsSubscription{
		source:   w,
		endpoint: endpoint,
		filter:   filter,
		handler:  handler,
		ctx:      subCtx,
		cancel:   cancel,
		conn:     conn,
	}
	sub.wg.Add(1)
	go sub.run()
	return sub, nil
}

type wsSubscription struct {
	source   *WSSource
	endpoint string
	filter   Filter
	handler  Handler
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	once     sync.Once

	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSubscription) run() {
	defer s.wg.Done()
	log := s.source.logger().With(zap.Stringer("filter", s.filter))

	interval := s.source.ReconnectInterval
	if interval <= 0 {
		interval = defaultReconnectInterval
	}
	delay := interval

	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		if conn != nil {
			if err := s.readLoop(conn); err != nil && s.ctx.Err() == nil {
				log.Warn("realtime connection lost", zap.Error(err))
			}
			_ = conn.Close()
			delay = interval
		}

		if s.ctx.Err() != nil {
			return
		}

		t := time.NewTimer(delay)
		select {
		case <-s.ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		next, err := s.source.dial(s.ctx, s.endpoint)
		if err != nil {
			log.Warn("realtime redial failed", zap.Error(err), zap.Duration("retry_in", delay))
			delay *= 2
			if delay > maxReconnectInterval {
				delay = maxReconnectInterval
			}
			s.mu.Lock()
			s.conn = nil
			s.mu.Unlock()
			continue
		}
		log.Info("realtime reconnected")
		s.mu.Lock()
		s.conn = next
		s.mu.Unlock()
	}
}

func (s *wsSubscription) readLoop(conn *websocket.Conn) error {
	for {
		var evt Event
		if err := conn.ReadJSON(&evt); err != nil {
			return fmt.Errorf("failed to read message: %w", err)
		}
		if !s.filter.Match(evt) {
			continue
		}
		s.handler(s.ctx, evt)
	}
}

func (s *wsSubscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.mu.Lock()
		if s.conn != nil {
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = s.conn.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
	})
	return nil
}
