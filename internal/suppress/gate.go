// Package suppress provides the time-windowed gate that keeps externally
// triggered refreshes from overwriting a freshly applied optimistic state.
package suppress

import (
	"sync"
	"time"
)

// DefaultWindow is the hard cap on how long a key stays engaged.
const DefaultWindow = 5 * time.Second

// Gate tracks engaged keys. An engaged key stays active until every Engage
// was matched by a Release or its window elapses, whichever comes first.
type Gate struct {
	mu       sync.Mutex
	window   time.Duration
	now      func() time.Time
	deadline map[string]time.Time
	holders  map[string]int
}

func New(window time.Duration) *Gate {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Gate{
		window:   window,
		now:      time.Now,
		deadline: make(map[string]time.Time),
		holders:  make(map[string]int),
	}
}

// WithClock replaces the gate's clock.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Engage opens (or extends) the window for key and adds a holder.
func (g *Gate) Engage(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deadline[key] = g.now().Add(g.window)
	g.holders[key]++
}

// Release drops one holder of key. The key goes inactive with its last
// holder.
func (g *Gate) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.holders[key] > 1 {
		g.holders[key]--
		return
	}
	g.drop(key)
}

// Clear releases key whatever its holders.
func (g *Gate) Clear(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.drop(key)
}

func (g *Gate) drop(key string) {
	delete(g.deadline, key)
	delete(g.holders, key)
}

// Active reports whether key is engaged and within its window.
func (g *Gate) Active(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	until, ok := g.deadline[key]
	if !ok {
		return false
	}
	if !g.now().Before(until) {
		g.drop(key)
		return false
	}
	return true
}

// Reset releases every key.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deadline = make(map[string]time.Time)
	g.holders = make(map[string]int)
}
