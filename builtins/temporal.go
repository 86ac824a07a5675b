// Debounce/throttle middleware, temporally coalescing calls the way
// spec.md's temporalResource is described: concurrent/rapid invocations
// within a window share one underlying execution instead of each running
// next() independently.
package builtins

import (
	"context"
	"sync"
	"time"

	"github.com/pumped-fn/runner/internal/tasks"
)

// TemporalConfig names the coalescing window a debounce/throttle middleware
// shares across calls.
type TemporalConfig struct {
	Name   string
	Window time.Duration
}

type pendingCall struct {
	ready chan struct{}
	value any
	err   error
}

type temporalState struct {
	mu      sync.Mutex
	pending *pendingCall
	timer   *time.Timer

	// throttle-only: the window's leading-edge result, reused until it expires.
	windowResult *pendingCall
	windowTimer  *time.Timer
}

// TemporalPool holds one state bucket per debounce/throttle name.
type TemporalPool struct {
	mu     sync.Mutex
	states map[string]*temporalState
}

func NewTemporalPool() *TemporalPool {
	return &TemporalPool{states: map[string]*temporalState{}}
}

func (p *TemporalPool) get(name string) *temporalState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.states[name]; ok {
		return s
	}
	s := &temporalState{}
	p.states[name] = s
	return s
}

// Debounce builds a task middleware that delays execution until Window has
// elapsed with no further calls, running once with the latest call's input
// and fanning the single result out to every caller coalesced into it.
func Debounce(id string, cfg TemporalConfig, pool *TemporalPool) *tasks.Middleware {
	name := cfg.Name
	if name == "" {
		name = id
	}
	return &tasks.Middleware{
		ID: id,
		Wrap: func(ctx context.Context, taskID string, input any, deps map[string]any, next tasks.Next) (any, error) {
			state := pool.get(name)

			state.mu.Lock()
			call := state.pending
			if call == nil || (state.timer != nil && !state.timer.Stop()) {
				call = &pendingCall{ready: make(chan struct{})}
				state.pending = call
			}
			state.timer = time.AfterFunc(cfg.Window, func() {
				value, err := next(ctx, input)
				call.value, call.err = value, err
				close(call.ready)
			})
			state.mu.Unlock()

			select {
			case <-call.ready:
				return call.value, call.err
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
}

// Throttle builds a task middleware where the first call in a window runs
// next() and subsequent calls within the same window reuse that result
// (leading-edge throttling).
func Throttle(id string, cfg TemporalConfig, pool *TemporalPool) *tasks.Middleware {
	name := cfg.Name
	if name == "" {
		name = id
	}
	return &tasks.Middleware{
		ID: id,
		Wrap: func(ctx context.Context, taskID string, input any, deps map[string]any, next tasks.Next) (any, error) {
			state := pool.get(name)

			state.mu.Lock()
			if state.windowResult != nil {
				existing := state.windowResult
				state.mu.Unlock()
				<-existing.ready
				return existing.value, existing.err
			}

			call := &pendingCall{ready: make(chan struct{})}
			state.windowResult = call
			state.windowTimer = time.AfterFunc(cfg.Window, func() {
				state.mu.Lock()
				state.windowResult = nil
				state.mu.Unlock()
			})
			state.mu.Unlock()

			value, err := next(ctx, input)
			call.value, call.err = value, err
			close(call.ready)
			return value, err
		},
	}
}
