package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pumped-fn/runner/internal/events"
	"github.com/pumped-fn/runner/internal/kerrors"
	"github.com/pumped-fn/runner/internal/validation"
)

func newManagerWithBuiltins() *events.Manager {
	m := events.NewManager()
	for _, id := range []string{"task.beforeRun", "tasks.beforeRun", "task.afterRun", "tasks.afterRun", "task.onError", "tasks.onError"} {
		m.DefineEvent(&events.Definition{ID: id})
	}
	return m
}

func TestRunExecutesTaskBody(t *testing.T) {
	ev := newManagerWithBuiltins()
	r := NewRunner(ev)
	r.RegisterTask(&Spec{
		ID: "echo",
		Run: func(ctx context.Context, input any, deps map[string]any) (any, error) {
			return input, nil
		},
	}, nil)

	out, err := r.Run(context.Background(), "echo", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}

func TestUnknownTaskFails(t *testing.T) {
	r := NewRunner(newManagerWithBuiltins())
	_, err := r.Run(context.Background(), "ghost", nil)
	assert.True(t, kerrors.IsDependencyNotFound(err))
}

func TestInputSchemaValidationFailure(t *testing.T) {
	r := NewRunner(newManagerWithBuiltins())
	r.RegisterTask(&Spec{
		ID:          "strict",
		InputSchema: validation.String(),
		Run: func(ctx context.Context, input any, deps map[string]any) (any, error) {
			return input, nil
		},
	}, nil)

	_, err := r.Run(context.Background(), "strict", 42)
	assert.True(t, kerrors.IsValidation(err))
}

func TestMiddlewareChainOnionOrderAndCaching(t *testing.T) {
	ev := newManagerWithBuiltins()
	r := NewRunner(ev)

	var calls []string
	r.RegisterMiddleware(&Middleware{
		ID: "outer", Everywhere: true,
		Wrap: func(ctx context.Context, id string, input any, deps map[string]any, next Next) (any, error) {
			calls = append(calls, "outer-enter")
			v, err := next(ctx, input)
			calls = append(calls, "outer-exit")
			return v, err
		},
	})
	r.RegisterTask(&Spec{
		ID:       "task",
		Attached: []string{"inner"},
		Run: func(ctx context.Context, input any, deps map[string]any) (any, error) {
			calls = append(calls, "run")
			return "ok", nil
		},
	}, nil)
	r.RegisterMiddleware(&Middleware{
		ID: "inner",
		Wrap: func(ctx context.Context, id string, input any, deps map[string]any, next Next) (any, error) {
			calls = append(calls, "inner-enter")
			v, err := next(ctx, input)
			calls = append(calls, "inner-exit")
			return v, err
		},
	})

	_, err := r.Run(context.Background(), "task", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"outer-enter", "inner-enter", "run", "inner-exit", "outer-exit"}, calls)

	calls = nil
	_, err = r.Run(context.Background(), "task", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"outer-enter", "inner-enter", "run", "inner-exit", "outer-exit"}, calls)
}

func TestOnErrorSuppressSwallowsError(t *testing.T) {
	ev := newManagerWithBuiltins()
	require.NoError(t, ev.AddListener(&events.Listener{
		ID: "swallow", EventID: "task.onError",
		Handler: func(ctx context.Context, e *events.Emission) error {
			data := e.Data.(map[string]any)
			data["suppress"].(func())()
			return nil
		},
	}))
	r := NewRunner(ev)
	r.RegisterTask(&Spec{
		ID: "flaky",
		Run: func(ctx context.Context, input any, deps map[string]any) (any, error) {
			return nil, errors.New("boom")
		},
	}, nil)

	out, err := r.Run(context.Background(), "flaky", nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestOnErrorPropagatesWithoutSuppress(t *testing.T) {
	r := NewRunner(newManagerWithBuiltins())
	r.RegisterTask(&Spec{
		ID: "flaky",
		Run: func(ctx context.Context, input any, deps map[string]any) (any, error) {
			return nil, errors.New("boom")
		},
	}, nil)

	_, err := r.Run(context.Background(), "flaky", nil)
	assert.Error(t, err)
}

func TestAfterRunSetOutputTransformsResult(t *testing.T) {
	ev := newManagerWithBuiltins()
	require.NoError(t, ev.AddListener(&events.Listener{
		ID: "transform", EventID: "task.afterRun",
		Handler: func(ctx context.Context, e *events.Emission) error {
			data := e.Data.(map[string]any)
			data["setOutput"].(func(any))("transformed")
			return nil
		},
	}))
	r := NewRunner(ev)
	r.RegisterTask(&Spec{
		ID: "task",
		Run: func(ctx context.Context, input any, deps map[string]any) (any, error) {
			return "original", nil
		},
	}, nil)

	out, err := r.Run(context.Background(), "task", nil)
	require.NoError(t, err)
	assert.Equal(t, "transformed", out)
}

func TestSkipLifecycleEventsGuardsInfiniteLoop(t *testing.T) {
	ev := newManagerWithBuiltins()
	calls := 0
	require.NoError(t, ev.AddListener(&events.Listener{
		ID: "counter", EventID: "tasks.beforeRun",
		Handler: func(ctx context.Context, e *events.Emission) error {
			calls++
			return nil
		},
	}))
	r := NewRunner(ev)
	r.RegisterTask(&Spec{
		ID:                  "lifecycleTask",
		SkipLifecycleEvents: true,
		Run: func(ctx context.Context, input any, deps map[string]any) (any, error) {
			return nil, nil
		},
	}, nil)

	_, err := r.Run(context.Background(), "lifecycleTask", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, calls)
}
