// Package mutation wraps each remote operation on follows, likes,
// conversations and messages in the network execution layer and reports
// the outcome as a tagged result instead of a raw store error.
package mutation

import (
	"context"
	"time"

	"github.com/Socheema/Framez-sub000/internal/netexec"
)

// Outcome tags a Result.
type Outcome int

const (
	OK Outcome = iota
	// Conflict means the remote row was already in the requested state.
	Conflict
	// NotFound means the row the operation targets does not exist.
	NotFound
	// Failed means the operation did not happen; Err says why.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case Conflict:
		return "conflict"
	case NotFound:
		return "not_found"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the only shape a service hands back to its callers. Err is set
// only when Outcome is Failed.
type Result[T any] struct {
	Outcome Outcome
	Value   T
	Err     error
}

func ok[T any](v T) Result[T] {
	return Result[T]{Outcome: OK, Value: v}
}

func failed[T any](err error) Result[T] {
	return Result[T]{Outcome: Failed, Err: err}
}

// resultOf translates an executor error: conflicts and not-founds become
// outcomes, everything else is a failure.
func resultOf[T any](v T, err error) Result[T] {
	if err == nil {
		return ok(v)
	}
	switch netexec.Classify(err) {
	case netexec.KindConflict:
		return Result[T]{Outcome: Conflict, Value: v}
	case netexec.KindNotFound:
		return Result[T]{Outcome: NotFound, Value: v}
	default:
		return failed[T](err)
	}
}

// Failed reports whether the operation did not happen.
func (r Result[T]) Failed() bool { return r.Outcome == Failed }

// Done reports whether the remote state now matches the request: either
// the call succeeded or the row was already there.
func (r Result[T]) Done() bool { return r.Outcome == OK || r.Outcome == Conflict }

// Kind returns the failure kind; it is only meaningful when Failed.
func (r Result[T]) Kind() netexec.Kind { return netexec.Classify(r.Err) }

// Timeouts are the per-call hard limits by call weight.
type Timeouts struct {
	Read  time.Duration `yaml:"read"`
	Write time.Duration `yaml:"write"`
	Heavy time.Duration `yaml:"heavy"`
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Read:  10 * time.Second,
		Write: 15 * time.Second,
		Heavy: 20 * time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Read <= 0 {
		t.Read = d.Read
	}
	if t.Write <= 0 {
		t.Write = d.Write
	}
	if t.Heavy <= 0 {
		t.Heavy = d.Heavy
	}
	return t
}

// cachedRead is a cached, retried read.
func cachedRead[T any](ctx context.Context, x *netexec.Executor, key string, opts netexec.Options, fn func(ctx context.Context) (T, error)) (T, error) {
	return netexec.Cached(ctx, x, key, 0, func(ctx context.Context) (T, error) {
		return netexec.Execute(ctx, x, opts, fn)
	})
}
