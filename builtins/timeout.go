package builtins

import (
	"context"
	"strconv"
	"time"

	"github.com/pumped-fn/runner/internal/kerrors"
	"github.com/pumped-fn/runner/internal/tasks"
)

// TimeoutConfig controls the timeout middleware.
type TimeoutConfig struct {
	Duration time.Duration
}

// Timeout races next() against a platform timer, failing with
// kerrors.MiddlewareTimeout when the timer fires first. The wrapped call
// keeps running in its goroutine (Go has no cooperative-cancel primitive
// for arbitrary code); callers that need real cancellation must make next
// observe ctx.Done(), the same cooperation contract spec.md §4.10 documents
// for AbortSignal-aware tasks.
func Timeout(id string, cfg TimeoutConfig) *tasks.Middleware {
	return &tasks.Middleware{
		ID: id,
		Wrap: func(ctx context.Context, taskID string, input any, deps map[string]any, next tasks.Next) (any, error) {
			timeoutCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
			defer cancel()

			type outcome struct {
				value any
				err   error
			}
			done := make(chan outcome, 1)
			go func() {
				v, err := next(timeoutCtx, input)
				done <- outcome{value: v, err: err}
			}()

			select {
			case o := <-done:
				return o.value, o.err
			case <-timeoutCtx.Done():
				return nil, kerrors.NewMiddlewareTimeout(taskID, strconv.FormatInt(cfg.Duration.Milliseconds(), 10)+"ms")
			}
		},
	}
}
