package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector records the events a handler saw.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handle(_ context.Context, evt Event) {
	c.mu.Lock()
	c.events = append(c.events, evt)
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *collector) rows(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, evt := range c.events {
		var r row
		require.NoError(t, evt.Decode(&r))
		out = append(out, r.ConversationID)
	}
	return out
}

func publishRows(t *testing.T, hub *Hub, ids ...string) {
	t.Helper()
	for _, id := range ids {
		evt, err := NewEvent(TableMessages, OpInsert, row{ConversationID: id})
		require.NoError(t, err)
		hub.Publish(evt)
	}
}

func TestHubDeliversMatchingEventsInOrder(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	var all, one collector
	_, err := hub.Subscribe(context.Background(), Filter{Table: TableMessages}, all.handle)
	require.NoError(t, err)
	_, err = hub.Subscribe(context.Background(), Filter{Table: TableMessages, Column: "conversation_id", Value: "c2"}, one.handle)
	require.NoError(t, err)

	publishRows(t, hub, "c1", "c2", "c3", "c2")

	require.Eventually(t, func() bool { return all.len() == 4 && one.len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"c1", "c2", "c3", "c2"}, all.rows(t))
	assert.Equal(t, []string{"c2", "c2"}, one.rows(t))

	stats := hub.Stats()
	assert.EqualValues(t, 4, stats["published"])
	assert.EqualValues(t, 6, stats["enqueued"])
	assert.EqualValues(t, 2, stats["subscriptions"])
}

func TestHubCloseStopsDelivery(t *testing.T) {
	hub := NewHub(nil)

	var c collector
	sub, err := hub.Subscribe(context.Background(), Filter{}, c.handle)
	require.NoError(t, err)
	publishRows(t, hub, "c1")
	require.Eventually(t, func() bool { return c.len() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, sub.Close())
	publishRows(t, hub, "c2")
	assert.Equal(t, 1, c.len())
	assert.Zero(t, hub.Stats()["subscriptions"])

	hub.Close()
	_, err = hub.Subscribe(context.Background(), Filter{}, c.handle)
	assert.ErrorIs(t, err, ErrHubClosed)
}

func TestHubSubscriptionEndsWithContext(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var c collector
	_, err := hub.Subscribe(ctx, Filter{}, c.handle)
	require.NoError(t, err)

	cancel()
	require.Eventually(t, func() bool { return hub.Stats()["subscriptions"] == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubDropsWhenQueueFull(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	block := make(chan struct{})
	defer close(block)
	_, err := hub.Subscribe(context.Background(), Filter{}, func(context.Context, Event) { <-block })
	require.NoError(t, err)

	for i := 0; i < defaultQueueCapacity+10; i++ {
		publishRows(t, hub, "c1")
	}
	assert.NotZero(t, hub.Stats()["dropped"])
}
