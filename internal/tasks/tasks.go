// Package tasks implements the TaskRunner of spec.md §4.9: a per-task
// middleware chain composed once and cached, onion-model execution, and
// lifecycle events (beforeRun/afterRun/onError) with setOutput/suppress()
// semantics. The compose-once-cache-by-id strategy and outer-to-inner
// wrapping order are grounded on pumped-go's scope.go UseExtension/Resolve
// path, which likewise folds a list of wrappers into one function the first
// time a given executor is resolved and reuses it after.
package tasks

import (
	"context"
	"fmt"
	"sync"

	"github.com/pumped-fn/runner/internal/events"
	"github.com/pumped-fn/runner/internal/kerrors"
	"github.com/pumped-fn/runner/internal/validation"
)

// RunFunc is a task's own body.
type RunFunc func(ctx context.Context, input any, deps map[string]any) (any, error)

// Next is what a middleware calls to continue the chain.
type Next func(ctx context.Context, input any) (any, error)

// MiddlewareFunc wraps one task invocation.
type MiddlewareFunc func(ctx context.Context, taskID string, input any, deps map[string]any, next Next) (any, error)

// Middleware is a registered task middleware; Everywhere/Predicate mirror
// the resource middleware global-attachment rules.
type Middleware struct {
	ID         string
	Everywhere bool
	Predicate  func(taskID string) bool
	Wrap       MiddlewareFunc
}

// Spec is the concrete, kind-agnostic shape a root package TaskDefinition
// descriptor is boxed into.
type Spec struct {
	ID           string
	Run          RunFunc
	InputSchema  validation.Schema
	ResultSchema validation.Schema
	Attached     []string // attached middleware ids, declared order
	DependsOn    []string

	// SkipLifecycleEvents, when set, makes Run skip the
	// tasks.beforeRun/afterRun/onError emissions for this task. The root
	// package's Run never sets it, so every registered task emits them.
	SkipLifecycleEvents bool
}

// Runner executes tasks through their composed middleware chain.
type Runner struct {
	events      *events.Manager
	middlewares map[string]*Middleware
	specs       map[string]*Spec
	deps        map[string]map[string]any

	mu      sync.Mutex
	cache   map[string]Next // composed chain, cached per task id once built
	locked  bool
}

func NewRunner(ev *events.Manager) *Runner {
	return &Runner{
		events:      ev,
		middlewares: map[string]*Middleware{},
		specs:       map[string]*Spec{},
		deps:        map[string]map[string]any{},
		cache:       map[string]Next{},
	}
}

func (r *Runner) RegisterMiddleware(m *Middleware) {
	r.middlewares[m.ID] = m
}

// RegisterTask registers a task's spec and the already-resolved values of
// its dependencies (resources/other tasks), captured once at boot.
func (r *Runner) RegisterTask(spec *Spec, resolvedDeps map[string]any) {
	r.specs[spec.ID] = spec
	r.deps[spec.ID] = resolvedDeps
}

// Lock sets the runner's locked flag. RegisterTask and RegisterMiddleware
// do not check it. Chains compose lazily on a task's first Run and are
// cached forever once built, per spec.md's "cached per task" requirement.
func (r *Runner) Lock() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locked = true
}

func (r *Runner) applicableMiddleware(spec *Spec) []*Middleware {
	seen := map[string]bool{}
	var chain []*Middleware
	for _, id := range spec.Attached {
		if m, ok := r.middlewares[id]; ok && !seen[id] {
			chain = append(chain, m)
			seen[id] = true
		}
	}
	var globals []*Middleware
	for id, m := range r.middlewares {
		if seen[id] {
			continue
		}
		if m.Everywhere || (m.Predicate != nil && m.Predicate(spec.ID)) {
			globals = append(globals, m)
			seen[id] = true
		}
	}
	// Globals not already attached are prepended (run outermost), attached
	// order preserved thereafter, per spec.md §4.9 step 3.
	return append(globals, chain...)
}

func (r *Runner) composedChain(spec *Spec) Next {
	r.mu.Lock()
	if cached, ok := r.cache[spec.ID]; ok {
		r.mu.Unlock()
		return cached
	}
	r.mu.Unlock()

	deps := r.deps[spec.ID]
	var next Next = func(ctx context.Context, input any) (any, error) {
		return spec.Run(ctx, input, deps)
	}
	chain := r.applicableMiddleware(spec)
	for i := len(chain) - 1; i >= 0; i-- {
		mw := chain[i]
		innerNext := next
		next = func(ctx context.Context, input any) (any, error) {
			return mw.Wrap(ctx, spec.ID, input, deps, innerNext)
		}
	}

	r.mu.Lock()
	r.cache[spec.ID] = next
	r.mu.Unlock()
	return next
}

// Run executes the task identified by id. It validates input/result
// against the declared schemas, dispatches lifecycle events (unless the
// task is itself a lifecycle listener), and applies the onError
// suppress() contract.
func (r *Runner) Run(ctx context.Context, id string, input any) (any, error) {
	spec, ok := r.specs[id]
	if !ok {
		return nil, kerrors.NewDependencyNotFound("TaskRunner.Run", id)
	}

	if spec.InputSchema != nil {
		coerced, err := spec.InputSchema.Validate(input)
		if err != nil {
			return nil, kerrors.NewValidation("Task input", id, err)
		}
		input = coerced
	}

	if !spec.SkipLifecycleEvents && r.events != nil {
		_, _ = r.events.Emit(ctx, "task.beforeRun", map[string]any{"id": id, "input": input}, id, events.EmitOptions{}, nil)
		_, _ = r.events.Emit(ctx, "tasks.beforeRun", map[string]any{"id": id, "input": input}, id, events.EmitOptions{}, nil)
	}

	chain := r.composedChain(spec)
	output, err := chain(ctx, input)

	if err != nil {
		if spec.SkipLifecycleEvents || r.events == nil {
			return nil, err
		}
		suppressed := false
		suppress := func() { suppressed = true }
		_, _ = r.events.Emit(ctx, "task.onError", map[string]any{"id": id, "error": err, "suppress": suppress}, id, events.EmitOptions{}, nil)
		_, _ = r.events.Emit(ctx, "tasks.onError", map[string]any{"id": id, "error": err, "suppress": suppress}, id, events.EmitOptions{}, nil)
		if suppressed {
			return nil, nil
		}
		return nil, fmt.Errorf("task %q failed: %w", id, err)
	}

	if spec.ResultSchema != nil {
		coerced, verr := spec.ResultSchema.Validate(output)
		if verr != nil {
			return nil, kerrors.NewValidation("Task result", id, verr)
		}
		output = coerced
	}

	if !spec.SkipLifecycleEvents && r.events != nil {
		setOutput := func(v any) { output = v }
		_, _ = r.events.Emit(ctx, "task.afterRun", map[string]any{"id": id, "output": output, "setOutput": setOutput}, id, events.EmitOptions{}, nil)
		_, _ = r.events.Emit(ctx, "tasks.afterRun", map[string]any{"id": id, "output": output, "setOutput": setOutput}, id, events.EmitOptions{}, nil)
	}

	return output, nil
}
