package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pumped-fn/runner/internal/kerrors"
	"github.com/pumped-fn/runner/internal/platform"
)

func TestRunExecutesSequentially(t *testing.T) {
	q := New("test", platform.NewProcessAdapter().CreateAsyncLocalStorage())
	var order []int
	done := make(chan struct{}, 2)

	go func() {
		_, _ = q.Run(context.Background(), func(ctx context.Context) (any, error) {
			order = append(order, 1)
			time.Sleep(10 * time.Millisecond)
			return nil, nil
		})
		done <- struct{}{}
	}()
	time.Sleep(2 * time.Millisecond)
	go func() {
		_, _ = q.Run(context.Background(), func(ctx context.Context) (any, error) {
			order = append(order, 2)
			return nil, nil
		})
		done <- struct{}{}
	}()

	<-done
	<-done
	assert.Equal(t, []int{1, 2}, order)
}

func TestRunPropagatesTaskError(t *testing.T) {
	q := New("test", platform.NewProcessAdapter().CreateAsyncLocalStorage())
	boom := errors.New("boom")
	_, err := q.Run(context.Background(), func(ctx context.Context) (any, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestReentrantRunIsDeadlock(t *testing.T) {
	q := New("test", platform.NewProcessAdapter().CreateAsyncLocalStorage())
	var innerErr error
	_, err := q.Run(context.Background(), func(ctx context.Context) (any, error) {
		_, innerErr = q.Run(ctx, func(context.Context) (any, error) { return nil, nil })
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, kerrors.IsDeadlock(innerErr))
}

func TestDisposeRejectsFurtherRuns(t *testing.T) {
	q := New("test", platform.NewProcessAdapter().CreateAsyncLocalStorage())
	q.Dispose(DisposeOptions{})
	_, err := q.Run(context.Background(), func(context.Context) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, kerrors.ErrDisposed)
}

func TestDisposeIsIdempotent(t *testing.T) {
	q := New("test", platform.NewProcessAdapter().CreateAsyncLocalStorage())
	events := 0
	q.On(func(ev Event, data any) {
		if ev == EventDisposed {
			events++
		}
	})
	q.Dispose(DisposeOptions{})
	q.Dispose(DisposeOptions{})
	assert.Equal(t, 1, events)
}

func TestOnceListenerFiresOnlyOnce(t *testing.T) {
	q := New("test", platform.NewProcessAdapter().CreateAsyncLocalStorage())
	count := 0
	q.Once(func(ev Event, data any) {
		if ev == EventFinish {
			count++
		}
	})
	_, _ = q.Run(context.Background(), func(context.Context) (any, error) { return nil, nil })
	_, _ = q.Run(context.Background(), func(context.Context) (any, error) { return nil, nil })
	assert.Equal(t, 1, count)
}

func TestUnsubscribeRemovesListener(t *testing.T) {
	q := New("test", platform.NewProcessAdapter().CreateAsyncLocalStorage())
	count := 0
	unsubscribe := q.On(func(ev Event, data any) { count++ })
	unsubscribe()
	_, _ = q.Run(context.Background(), func(context.Context) (any, error) { return nil, nil })
	assert.Equal(t, 0, count)
}
