package builtins

import (
	"context"

	"github.com/pumped-fn/runner/internal/tasks"
)

// FallbackConfig supplies a recovery value when the wrapped chain fails.
type FallbackConfig struct {
	Run func(ctx context.Context, err error, input any) (any, error)
}

// Fallback builds a task middleware that runs FallbackConfig.Run on
// failure, per spec.md §4.10.
func Fallback(id string, cfg FallbackConfig) *tasks.Middleware {
	return &tasks.Middleware{
		ID: id,
		Wrap: func(ctx context.Context, taskID string, input any, deps map[string]any, next tasks.Next) (any, error) {
			out, err := next(ctx, input)
			if err == nil {
				return out, nil
			}
			return cfg.Run(ctx, err, input)
		},
	}
}
