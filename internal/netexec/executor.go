// Package netexec runs every remote call of the engine: per-attempt
// timeouts, retries with exponential backoff for transient faults, and a
// short-lived result cache with explicit invalidation.
package netexec

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RetryPolicy bounds how often and how slowly a failing call is retried.
type RetryPolicy struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		Multiplier:   2,
		MaxDelay:     2 * time.Second,
	}
}

// Delay returns the pause after the given failed attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Config holds executor-wide defaults.
type Config struct {
	Retry    RetryPolicy   `yaml:"retry"`
	Timeout  time.Duration `yaml:"timeout"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
	// RateLimit caps attempts per second; zero disables throttling.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

func DefaultConfig() Config {
	return Config{
		Retry:    DefaultRetryPolicy(),
		Timeout:  10 * time.Second,
		CacheTTL: 30 * time.Second,
	}
}

// Options describe one call.
type Options struct {
	// Op names the call in errors, logs and metrics.
	Op      string
	Timeout time.Duration
	// Retry overrides the executor's policy when set.
	Retry *RetryPolicy
	// Maybe marks a read for which an empty result is a valid answer.
	Maybe bool
}

// Executor is safe for concurrent use. One instance is shared by the
// whole process so that all services see the same cache.
type Executor struct {
	cfg     Config
	cache   *Cache
	limiter *rate.Limiter
	metrics *Metrics
	log     *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

type Option func(*Executor)

func WithLogger(log *zap.Logger) Option {
	return func(x *Executor) {
		if log != nil {
			x.log = log
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(x *Executor) { x.metrics = m }
}

// WithClock replaces the clock used for cache freshness.
func WithClock(now func() time.Time) Option {
	return func(x *Executor) { x.cache.now = now }
}

// WithSleep replaces the backoff sleep.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(x *Executor) { x.sleep = sleep }
}

func New(cfg Config, opts ...Option) *Executor {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}
	x := &Executor{
		cfg:   cfg,
		cache: NewCache(),
		log:   zap.NewNop(),
		sleep: sleepCtx,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		x.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Config returns the executor's defaults.
func (x *Executor) Config() Config { return x.cfg }

// Do runs fn under the retry and timeout rules of opts.
func (x *Executor) Do(ctx context.Context, opts Options, fn func(ctx context.Context) error) error {
	_, err := Execute(ctx, x, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Execute runs fn until it succeeds, fails with a non-retryable kind, or
// runs out of attempts. Conflict and validation errors are returned at
// once; a not-found on a Maybe read yields the zero value and no error.
func Execute[T any](ctx context.Context, x *Executor, opts Options, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	policy := x.cfg.Retry
	if opts.Retry != nil {
		policy = *opts.Retry
	}
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = x.cfg.Timeout
	}

	var lastErr error
	attempt := 0
	for attempt < attempts {
		attempt++

		if x.limiter != nil {
			if err := x.limiter.Wait(ctx); err != nil {
				lastErr = err
				break
			}
		}

		x.metrics.attempt(opts.Op)
		v, err := WithTimeout(ctx, timeout, fn)
		if err == nil {
			return v, nil
		}

		kind := Classify(err)
		if kind == KindNotFound && opts.Maybe {
			return zero, nil
		}
		if !kind.Retryable() {
			x.metrics.failure(opts.Op, kind)
			return zero, &Error{Kind: kind, Op: opts.Op, Attempts: attempt, Err: err}
		}

		lastErr = err
		if ctx.Err() != nil || attempt == attempts {
			break
		}

		delay := policy.Delay(attempt)
		x.metrics.retry(opts.Op)
		x.log.Debug("retrying remote call",
			zap.String("op", opts.Op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := x.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		lastErr = fmt.Errorf("%w (last error: %v)", ctxErr, lastErr)
	}
	kind := Classify(lastErr)
	x.metrics.failure(opts.Op, kind)
	x.log.Warn("remote call failed",
		zap.String("op", opts.Op),
		zap.Int("attempts", attempt),
		zap.Stringer("kind", kind),
		zap.Error(lastErr))
	return zero, &Error{Kind: kind, Op: opts.Op, Attempts: attempt, Err: lastErr}
}

// WithTimeout races fn against a timer. If the timer wins the call fails
// with ErrTimeout and the context handed to fn is cancelled so the
// abandoned call can stop.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v: v, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	var zero T
	select {
	case r := <-done:
		return r.v, r.err
	case <-timer.C:
		return zero, fmt.Errorf("after %s: %w", d, ErrTimeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
