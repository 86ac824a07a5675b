package builtins

import (
	"context"
	"fmt"

	"github.com/pumped-fn/runner/internal/kerrors"
	"github.com/pumped-fn/runner/internal/platform"
	"github.com/pumped-fn/runner/internal/tasks"
)

// RequireContext builds a task middleware that asserts an async-local
// storage marker is present on ctx, failing with kerrors.Validation
// otherwise, per spec.md §4.10.
func RequireContext(id string) *tasks.Middleware {
	return &tasks.Middleware{
		ID: id,
		Wrap: func(ctx context.Context, taskID string, input any, deps map[string]any, next tasks.Next) (any, error) {
			if _, ok := platform.GetFromContext(ctx); !ok {
				return nil, kerrors.NewValidation("Context", taskID, fmt.Errorf("no async-local-storage context present"))
			}
			return next(ctx, input)
		},
	}
}
