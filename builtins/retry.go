// Package builtins provides the reusable task/resource middleware of
// spec.md §4.10, layered on top of internal/tasks, internal/semaphore, and
// internal/logging. Nothing here is exported kernel machinery; these are
// ordinary middleware values any caller can attach or register globally.
package builtins

import (
	"context"
	"math"
	"time"

	"github.com/pumped-fn/runner/internal/logging"
	"github.com/pumped-fn/runner/internal/tasks"
)

// RetryConfig controls the retry middleware.
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
	Backoff  float64 // multiplier applied to Delay after each failed attempt; 1 means constant delay
	StopIf   func(err error) bool
}

// Retry builds a task middleware that retries on a thrown error, per
// spec.md §4.10, logging attempt counts through the given logger.
func Retry(id string, cfg RetryConfig, logger *logging.Logger) *tasks.Middleware {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 1
	}
	return &tasks.Middleware{
		ID: id,
		Wrap: func(ctx context.Context, taskID string, input any, deps map[string]any, next tasks.Next) (any, error) {
			delay := cfg.Delay
			var lastErr error
			for attempt := 1; attempt <= cfg.Attempts; attempt++ {
				out, err := next(ctx, input)
				if err == nil {
					return out, nil
				}
				lastErr = err
				if logger != nil {
					logger.Warn("task attempt failed", map[string]any{"task": taskID, "attempt": attempt, "of": cfg.Attempts, "error": err.Error()})
				}
				if cfg.StopIf != nil && cfg.StopIf(err) {
					break
				}
				if attempt == cfg.Attempts {
					break
				}
				if delay > 0 {
					select {
					case <-time.After(delay):
					case <-ctx.Done():
						return nil, ctx.Err()
					}
				}
				delay = time.Duration(math.Round(float64(delay) * cfg.Backoff))
			}
			return nil, lastErr
		},
	}
}
