package builtins

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pumped-fn/runner/internal/kerrors"
	"github.com/pumped-fn/runner/internal/tasks"
)

func chainOf(mw *tasks.Middleware, final tasks.Next) tasks.Next {
	return func(ctx context.Context, input any) (any, error) {
		return mw.Wrap(ctx, "t", input, nil, final)
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	final := func(ctx context.Context, input any) (any, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	}
	mw := Retry("retry", RetryConfig{Attempts: 5, Delay: time.Millisecond}, nil)
	out, err := chainOf(mw, final)(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, calls)
}

func TestRetryStopIfHaltsEarly(t *testing.T) {
	calls := 0
	stopErr := errors.New("fatal")
	final := func(ctx context.Context, input any) (any, error) {
		calls++
		return nil, stopErr
	}
	mw := Retry("retry", RetryConfig{Attempts: 5, StopIf: func(err error) bool { return errors.Is(err, stopErr) }}, nil)
	_, err := chainOf(mw, final)(context.Background(), nil)
	assert.ErrorIs(t, err, stopErr)
	assert.Equal(t, 1, calls)
}

func TestTimeoutFailsWhenNextTooSlow(t *testing.T) {
	final := func(ctx context.Context, input any) (any, error) {
		time.Sleep(50 * time.Millisecond)
		return "late", nil
	}
	mw := Timeout("timeout", TimeoutConfig{Duration: 5 * time.Millisecond})
	_, err := chainOf(mw, final)(context.Background(), nil)
	assert.True(t, kerrors.IsMiddlewareTimeout(err))
}

func TestConcurrencyLimitsParallelCalls(t *testing.T) {
	pool := NewConcurrencyPool()
	mw := Concurrency("conc", ConcurrencyConfig{Limit: 1, Name: "pool"}, pool)

	var active, maxActive int
	final := func(ctx context.Context, input any) (any, error) {
		active++
		if active > maxActive {
			maxActive = active
		}
		time.Sleep(10 * time.Millisecond)
		active--
		return nil, nil
	}
	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, _ = chainOf(mw, final)(context.Background(), nil)
			done <- struct{}{}
		}()
	}
	<-done
	<-done
	assert.Equal(t, 1, maxActive)
}

func TestRateLimitExceeded(t *testing.T) {
	pool := NewRateLimiterPool()
	mw := RateLimit("rl", RateLimitConfig{Name: "bucket", RatePerS: 1, Burst: 1}, pool)
	final := func(ctx context.Context, input any) (any, error) { return "ok", nil }

	_, err := chainOf(mw, final)(context.Background(), nil)
	require.NoError(t, err)
	_, err = chainOf(mw, final)(context.Background(), nil)
	assert.True(t, kerrors.IsMiddlewareRateLimitExceeded(err))
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	mw := CircuitBreaker("cb", CircuitBreakerConfig{Threshold: 2, CooldownMs: 10_000})
	failing := func(ctx context.Context, input any) (any, error) { return nil, errors.New("boom") }

	_, _ = chainOf(mw, failing)(context.Background(), nil)
	_, _ = chainOf(mw, failing)(context.Background(), nil)
	_, err := chainOf(mw, failing)(context.Background(), nil)
	assert.True(t, kerrors.IsMiddlewareCircuitBreakerOpen(err))
}

func TestFallbackRunsOnFailure(t *testing.T) {
	mw := Fallback("fb", FallbackConfig{Run: func(ctx context.Context, err error, input any) (any, error) {
		return "recovered", nil
	}})
	failing := func(ctx context.Context, input any) (any, error) { return nil, errors.New("boom") }
	out, err := chainOf(mw, failing)(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
}

func TestRequireContextFailsWithoutMarker(t *testing.T) {
	mw := RequireContext("rc")
	final := func(ctx context.Context, input any) (any, error) { return "ok", nil }
	_, err := chainOf(mw, final)(context.Background(), nil)
	assert.True(t, kerrors.IsValidation(err))
}

func TestTunnelPassthroughForUnroutedTask(t *testing.T) {
	router := NewTunnelRouter()
	mw := Tunnel("tunnel", router)
	final := func(ctx context.Context, input any) (any, error) { return "local", nil }
	out, err := chainOf(mw, final)(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "local", out)
}

func TestTunnelPhantomWhenRoutedButUnregistered(t *testing.T) {
	router := NewTunnelRouter()
	router.DeclareRouted("t")
	mw := Tunnel("tunnel", router)
	final := func(ctx context.Context, input any) (any, error) { return "local", nil }
	_, err := chainOf(mw, final)(context.Background(), nil)
	assert.True(t, kerrors.IsPhantomTaskNotRouted(err))
}

func TestTunnelDelegatesToRegisteredExecutor(t *testing.T) {
	router := NewTunnelRouter()
	router.DeclareRouted("t")
	require.NoError(t, router.Register("t", func(ctx context.Context, taskID string, input any) (any, error) {
		return "remote", nil
	}))
	mw := Tunnel("tunnel", router)
	final := func(ctx context.Context, input any) (any, error) { return "local", nil }
	out, err := chainOf(mw, final)(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "remote", out)
}

func TestDebounceCoalescesRapidCalls(t *testing.T) {
	pool := NewTemporalPool()
	mw := Debounce("deb", TemporalConfig{Name: "d", Window: 20 * time.Millisecond}, pool)
	calls := 0
	final := func(ctx context.Context, input any) (any, error) {
		calls++
		return input, nil
	}

	results := make(chan any, 3)
	for i := 0; i < 3; i++ {
		i := i
		go func() {
			out, _ := chainOf(mw, final)(context.Background(), i)
			results <- out
		}()
		time.Sleep(2 * time.Millisecond)
	}
	for i := 0; i < 3; i++ {
		<-results
	}
	assert.Equal(t, 1, calls)
}

func TestThrottleReusesLeadingEdgeResult(t *testing.T) {
	pool := NewTemporalPool()
	mw := Throttle("thr", TemporalConfig{Name: "t", Window: 50 * time.Millisecond}, pool)
	calls := 0
	final := func(ctx context.Context, input any) (any, error) {
		calls++
		return calls, nil
	}

	out1, err := chainOf(mw, final)(context.Background(), nil)
	require.NoError(t, err)
	out2, err := chainOf(mw, final)(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, out1, out2)
	assert.Equal(t, 1, calls)
}
