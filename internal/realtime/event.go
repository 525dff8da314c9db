// Package realtime delivers row-level change notifications from the remote
// data service to whoever subscribed to them.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Tables that publish change events.
const (
	TableFollows  = "follows"
	TableLikes    = "likes"
	TableMessages = "messages"
)

// Event is a single row change. New is empty for deletes and Old is empty
// for inserts.
type Event struct {
	Table string          `json:"table"`
	Op    Op              `json:"op"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
	At    time.Time       `json:"at"`
}

// NewEvent builds an event carrying row as its New or Old payload
// depending on op.
func NewEvent(table string, op Op, row any) (Event, error) {
	raw, err := json.Marshal(row)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s row: %w", table, err)
	}
	evt := Event{Table: table, Op: op, At: time.Now()}
	if op == OpDelete {
		evt.Old = raw
	} else {
		evt.New = raw
	}
	return evt, nil
}

// Record returns the row the event is about: New, or Old for deletes.
func (e Event) Record() json.RawMessage {
	if !empty(e.New) {
		return e.New
	}
	if !empty(e.Old) {
		return e.Old
	}
	return nil
}

func empty(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// Decode unmarshals Record into v.
func (e Event) Decode(v any) error {
	rec := e.Record()
	if len(rec) == 0 {
		return fmt.Errorf("event on %s has no row", e.Table)
	}
	return json.Unmarshal(rec, v)
}

// Filter selects events by table and, optionally, by an equality
// predicate on one column of the row.
type Filter struct {
	Table  string
	Column string
	Value  string
}

// Match reports whether evt passes the filter.
func (f Filter) Match(evt Event) bool {
	if f.Table != "" && f.Table != evt.Table {
		return false
	}
	if f.Column == "" {
		return true
	}
	var row map[string]any
	if err := json.Unmarshal(evt.Record(), &row); err != nil {
		return false
	}
	v, ok := row[f.Column]
	if !ok || v == nil {
		return false
	}
	return fmt.Sprint(v) == f.Value
}

func (f Filter) String() string {
	if f.Column == "" {
		return f.Table
	}
	return f.Table + ":" + f.Column + "=eq." + f.Value
}

// Handler receives events for one subscription, one at a time.
type Handler func(ctx context.Context, evt Event)

// Subscription is a live registration with a Source.
type Subscription interface {
	Close() error
}

// Source is anything that can push change events.
type Source interface {
	Subscribe(ctx context.Context, filter Filter, handler Handler) (Subscription, error)
}
