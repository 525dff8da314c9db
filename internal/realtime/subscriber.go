package realtime

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Subscriber owns a set of named subscriptions on a Source. A scope holds
// at most one live subscription: subscribing to a scope again tears the
// previous one down first so events are never delivered twice.
type Subscriber struct {
	source Source
	log    *zap.Logger

	mu     sync.Mutex
	scopes map[string]Subscription
}

func NewSubscriber(source Source, log *zap.Logger) *Subscriber {
	if log == nil {
		log = zap.NewNop()
	}
	return &Subscriber{
		source: source,
		log:    log,
		scopes: make(map[string]Subscription),
	}
}

// Subscribe replaces whatever subscription scope had with a new one.
func (s *Subscriber) Subscribe(ctx context.Context, scope string, filter Filter, handler Handler) error {
	if s.source == nil {
		return fmt.Errorf("subscribe %s: no change-event source", scope)
	}

	s.mu.Lock()
	prev := s.scopes[scope]
	delete(s.scopes, scope)
	s.mu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			s.log.Warn("closing previous subscription", zap.String("scope", scope), zap.Error(err))
		}
	}

	sub, err := s.source.Subscribe(ctx, filter, handler)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", scope, err)
	}

	s.mu.Lock()
	s.scopes[scope] = sub
	s.mu.Unlock()

	s.log.Debug("subscribed", zap.String("scope", scope), zap.Stringer("filter", filter))
	return nil
}

// Unsubscribe tears down scope if it is live.
func (s *Subscriber) Unsubscribe(scope string) {
	s.mu.Lock()
	sub := s.scopes[scope]
	delete(s.scopes, scope)
	s.mu.Unlock()

	if sub != nil {
		if err := sub.Close(); err != nil {
			s.log.Warn("closing subscription", zap.String("scope", scope), zap.Error(err))
		}
	}
}

// Active reports whether scope has a live subscription.
func (s *Subscriber) Active(scope string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.scopes[scope]
	return ok
}

// Close tears down every scope.
func (s *Subscriber) Close() {
	s.mu.Lock()
	scopes := s.scopes
	s.scopes = make(map[string]Subscription)
	s.mu.Unlock()

	for scope, sub := range scopes {
		if err := sub.Close(); err != nil {
			s.log.Warn("closing subscription", zap.String("scope", scope), zap.Error(err))
		}
	}
}
