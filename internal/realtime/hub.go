package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// queue capacity per subscription; events beyond it are dropped
	defaultQueueCapacity  = 256
	defaultHandlerTimeout = 10 * time.Second
)

var ErrHubClosed = errors.New("realtime hub closed")

// Hub fans published events out to in-process subscriptions. Each
// subscription owns a queue drained by its own goroutine, so a handler sees
// its events serially and in publish order.
type Hub struct {
	log *zap.Logger

	mu     sync.RWMutex
	subs   map[*hubSubscription]struct{}
	closed bool

	statsMu   sync.Mutex
	published int64
	enqueued  int64
	delivered int64
	dropped   int64
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:  log,
		subs: make(map[*hubSubscription]struct{}),
	}
}

type hubSubscription struct {
	hub     *Hub
	filter  Filter
	handler Handler
	events  chan Event
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
}

// Subscribe registers handler for events passing filter. The subscription
// ends when Close is called or ctx is done.
func (h *Hub) Subscribe(ctx context.Context, filter Filter, handler Handler) (Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &hubSubscription{
		hub:     h,
		filter:  filter,
		handler: handler,
		events:  make(chan Event, defaultQueueCapacity),
		ctx:     subCtx,
		cancel:  cancel,
	}
	h.subs[sub] = struct{}{}

	sub.wg.Add(1)
	go sub.loop()

	h.log.Debug("realtime subscription added", zap.Stringer("filter", filter))
	return sub, nil
}

// Publish enqueues evt on every matching subscription without blocking.
func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}

	h.statsMu.Lock()
	h.published++
	h.statsMu.Unlock()

	for sub := range h.subs {
		if !sub.filter.Match(evt) {
			continue
		}
		select {
		case sub.events <- evt:
			h.statsMu.Lock()
			h.enqueued++
			h.statsMu.Unlock()
		default:
			h.statsMu.Lock()
			h.dropped++
			h.statsMu.Unlock()
			h.log.Warn("realtime queue full, dropping event",
				zap.String("table", evt.Table), zap.String("op", string(evt.Op)))
		}
	}
}

// Close ends every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*hubSubscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
}

// Stats reports publish and delivery counters. An event is delivered once
// its handler returned.
func (h *Hub) Stats() map[string]int64 {
	h.mu.RLock()
	active := int64(len(h.subs))
	h.mu.RUnlock()

	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	return map[string]int64{
		"published":     h.published,
		"enqueued":      h.enqueued,
		"delivered":     h.delivered,
		"dropped":       h.dropped,
		"subscriptions": active,
	}
}

func (s *hubSubscription) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			s.detach()
			return
		case evt := <-s.events:
			ctx, cancel := context.WithTimeout(s.ctx, defaultHandlerTimeout)
			s.handler(ctx, evt)
			cancel()

			s.hub.statsMu.Lock()
			s.hub.delivered++
			s.hub.statsMu.Unlock()
		}
	}
}

func (s *hubSubscription) detach() {
	s.hub.mu.Lock()
	delete(s.hub.subs, s)
	s.hub.mu.Unlock()
}

func (s *hubSubscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
	return nil
}
