package netexec

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Socheema/Framez-sub000/store"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newTestExecutor(opts ...Option) *Executor {
	cfg := DefaultConfig()
	cfg.Timeout = time.Second
	return New(cfg, append([]Option{WithSleep(noSleep)}, opts...)...)
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	x := newTestExecutor()
	var calls int32

	v, err := Execute(context.Background(), x, Options{Op: "count"}, func(context.Context) (int, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return 0, errors.New("connection reset")
		}
		return 7, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestExecuteGivesUpAfterMaxAttempts(t *testing.T) {
	x := newTestExecutor()
	var calls int32

	err := x.Do(context.Background(), Options{Op: "send"}, func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("connection refused")
	})

	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, KindTransient, Classify(err))

	var execErr *Error
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, 3, execErr.Attempts)
	assert.Equal(t, "send", execErr.Op)
}

func TestExecuteConflictIsNotRetried(t *testing.T) {
	x := newTestExecutor()
	var calls int32

	err := x.Do(context.Background(), Options{Op: "insert"}, func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return fmt.Errorf("follow edge %w", store.ErrDuplicate)
	})

	assert.True(t, IsConflict(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestExecuteValidationIsNotRetried(t *testing.T) {
	x := newTestExecutor()
	var calls int32

	err := x.Do(context.Background(), Options{Op: "send"}, func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return Invalid("empty text")
	})

	assert.Equal(t, KindValidation, Classify(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestExecuteMaybeReadTreatsNotFoundAsEmpty(t *testing.T) {
	x := newTestExecutor()

	v, err := Execute(context.Background(), x, Options{Op: "lookup", Maybe: true}, func(context.Context) (*string, error) {
		return nil, fmt.Errorf("conversation %w", store.ErrNotFound)
	})
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = Execute(context.Background(), x, Options{Op: "lookup"}, func(context.Context) (*string, error) {
		return nil, fmt.Errorf("conversation %w", store.ErrNotFound)
	})
	assert.True(t, IsNotFound(err))
}

func TestExecuteTimesOutStalledAttempts(t *testing.T) {
	x := newTestExecutor()
	one := RetryPolicy{MaxAttempts: 2}
	var calls int32

	err := x.Do(context.Background(), Options{Op: "stall", Timeout: 20 * time.Millisecond, Retry: &one}, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		<-ctx.Done()
		return ctx.Err()
	})

	assert.Equal(t, KindTimeout, Classify(err))
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestExecuteStopsWhenContextCancelled(t *testing.T) {
	x := New(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32

	err := x.Do(ctx, Options{Op: "cancel"}, func(context.Context) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			cancel()
		}
		return errors.New("connection reset")
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRetryPolicyDelayIsCapped(t *testing.T) {
	p := RetryPolicy{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 300 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 300*time.Millisecond, p.Delay(3))
	assert.Equal(t, 300*time.Millisecond, p.Delay(10))
}

func TestWithTimeoutReturnsResultWhenFast(t *testing.T) {
	v, err := WithTimeout(context.Background(), time.Second, func(context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestMetricsCountRetriesAndFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	x := newTestExecutor(WithMetrics(m))

	_ = x.Do(context.Background(), Options{Op: "flaky"}, func(context.Context) error {
		return errors.New("boom")
	})

	assert.Equal(t, float64(3), testutil.ToFloat64(m.attempts.WithLabelValues("flaky")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.retries.WithLabelValues("flaky")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.failures.WithLabelValues("flaky", "transient")))
}

func TestRateLimitSpacesAttempts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = 20
	cfg.Burst = 1
	x := New(cfg, WithSleep(noSleep))

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, x.Do(context.Background(), Options{Op: "throttled"}, func(context.Context) error { return nil }))
	}
	// burst of one at 20/s: the second and third calls wait about 50ms each
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestRateLimitHonoursCancellation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = 0.01
	cfg.Burst = 1
	x := New(cfg, WithSleep(noSleep))
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, x.Do(ctx, Options{Op: "throttled"}, func(context.Context) error { return nil }))
	cancel()

	err := x.Do(ctx, Options{Op: "throttled"}, func(context.Context) error { return nil })
	assert.Error(t, err)
}
