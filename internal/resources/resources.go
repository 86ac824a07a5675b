// Package resources implements the ResourceInitializer of spec.md §4.8:
// topological initialization, resource-middleware wrapping, lifecycle
// events with suppress() semantics, and reverse-order idempotent disposal.
// The middleware-wrapping loop is grounded on pumped-go's scope.go
// cleanupExecutor/UseExtension pattern: extensions (here, resource
// middleware) wrap a resolve (here, an init) in reverse-registration order,
// and cleanups run in exact reverse of the order resources were resolved.
package resources

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/pumped-fn/runner/internal/depgraph"
	"github.com/pumped-fn/runner/internal/events"
	"github.com/pumped-fn/runner/internal/kerrors"
	"github.com/pumped-fn/runner/internal/validation"
)

// InitFunc initializes a resource value from its merged config and the
// already-resolved values of its dependencies.
type InitFunc func(ctx context.Context, config any, deps map[string]any) (any, error)

// DisposeFunc releases a resource's value.
type DisposeFunc func(ctx context.Context, value any, config any, deps map[string]any) error

// Next is what a middleware calls to continue the chain.
type Next func(ctx context.Context, config any) (any, error)

// Middleware wraps a resource's init. Everywhere registers it against every
// resource; Predicate (if Everywhere is false) gates which resource ids it
// applies to.
type Middleware struct {
	ID         string
	Everywhere bool
	Predicate  func(resourceID string) bool
	Wrap       func(ctx context.Context, resourceID string, config any, deps map[string]any, next Next) (any, error)
}

// Spec is the concrete, kind-agnostic shape the root package's
// ResourceDefinition descriptor is boxed into for the kernel to execute.
type Spec struct {
	ID            string
	Init          InitFunc
	Dispose       DisposeFunc
	ConfigSchema  validation.Schema
	Attached      []string // middleware ids attached directly to this resource, in declared order
	DependsOn     []string // ids of resources/tasks this resource's deps map to
	DependencyKey []string // the same length/order as DependsOn, the key name used in the deps map handed to Init
}

// Record is the mutable runtime state the initializer tracks per resource.
type Record struct {
	Spec          *Spec
	Config        any
	Value         any
	IsInitialized bool
	disposer      func(ctx context.Context) error
	disposed      bool
}

// Initializer drives the boot/teardown sequence for a set of resources.
type Initializer struct {
	events      *events.Manager
	middlewares map[string]*Middleware
	records     map[string]*Record
	order       []string // topological order actually achieved, for reverse disposal
}

func NewInitializer(ev *events.Manager) *Initializer {
	return &Initializer{
		events:      ev,
		middlewares: map[string]*Middleware{},
		records:     map[string]*Record{},
	}
}

func (init *Initializer) RegisterMiddleware(m *Middleware) {
	init.middlewares[m.ID] = m
}

func (init *Initializer) RegisterResource(spec *Spec, config any) {
	init.records[spec.ID] = &Record{Spec: spec, Config: config}
}

// applicableMiddleware returns, in onion-wrap order, the middleware chain
// for one resource: attached middleware first (declared order preserved),
// then global "everywhere" or predicate-matching middleware whose id was
// not already attached, deduplicated by id.
func (init *Initializer) applicableMiddleware(spec *Spec) []*Middleware {
	seen := map[string]bool{}
	var chain []*Middleware
	for _, id := range spec.Attached {
		if m, ok := init.middlewares[id]; ok && !seen[id] {
			chain = append(chain, m)
			seen[id] = true
		}
	}
	for id, m := range init.middlewares {
		if seen[id] {
			continue
		}
		if m.Everywhere || (m.Predicate != nil && m.Predicate(spec.ID)) {
			chain = append(chain, m)
			seen[id] = true
		}
	}
	return chain
}

// DepsResolver builds the dependency map handed to one resource's Init, by
// reading the already-initialized values of resources earlier in the
// topological order (and whatever else the caller's dependency model
// supports). Called once per resource, immediately before that resource's
// init runs, so it only ever needs values booted so far.
type DepsResolver func(resourceID string) map[string]any

// Boot initializes every registered resource in the topological order
// computed by depgraph, wiring each resource's applicable middleware chain
// and emitting lifecycle events. On any unsuppressed init error, boot
// disposes everything initialized so far (in reverse order) before
// returning the error.
func (init *Initializer) Boot(ctx context.Context, resolveDeps DepsResolver) error {
	var nodes []depgraph.Node
	for id, rec := range init.records {
		nodes = append(nodes, depgraph.Node{ID: id, DependsOn: rec.Spec.DependsOn})
	}
	graph := depgraph.Resolve(nodes)
	if len(graph.Cycles) > 0 {
		return kerrors.NewCircularDependencies(graph.Cycles)
	}
	for _, m := range graph.Missing {
		return kerrors.NewDependencyNotFound(m.Consumer, m.Key)
	}

	if init.events != nil {
		_, _ = init.events.Emit(ctx, "resources.beforeInit", nil, "resources", events.EmitOptions{}, nil)
	}

	for _, id := range graph.Order {
		rec, ok := init.records[id]
		if !ok {
			continue // the topological set may include task/middleware ids with no resource record
		}
		var deps map[string]any
		if resolveDeps != nil {
			deps = resolveDeps(id)
		}
		if err := init.bootOne(ctx, rec, deps); err != nil {
			init.teardownInitialized(ctx)
			return err
		}
		init.order = append(init.order, id)
	}

	if init.events != nil {
		_, _ = init.events.Emit(ctx, "resources.afterInit", nil, "resources", events.EmitOptions{}, nil)
	}
	return nil
}

func (init *Initializer) bootOne(ctx context.Context, rec *Record, deps map[string]any) error {
	spec := rec.Spec

	if spec.ConfigSchema != nil {
		coerced, err := spec.ConfigSchema.Validate(rec.Config)
		if err != nil {
			return kerrors.NewValidation("Resource config", spec.ID, err)
		}
		rec.Config = coerced
	}

	if init.events != nil {
		_, _ = init.events.Emit(ctx, "resources.resource.beforeInit", map[string]any{"id": spec.ID}, spec.ID, events.EmitOptions{}, nil)
	}

	chain := init.applicableMiddleware(spec)
	var next Next = func(ctx context.Context, config any) (any, error) {
		return spec.Init(ctx, config, deps)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		mw := chain[i]
		innerNext := next
		next = func(ctx context.Context, config any) (any, error) {
			return mw.Wrap(ctx, spec.ID, config, deps, innerNext)
		}
	}

	value, err := next(ctx, rec.Config)
	if err != nil {
		suppressed := false
		if init.events != nil {
			suppress := func() { suppressed = true }
			_, _ = init.events.Emit(ctx, "resources.resource.onError", map[string]any{"id": spec.ID, "error": err, "suppress": suppress}, spec.ID, events.EmitOptions{}, nil)
		}
		if !suppressed {
			return fmt.Errorf("initializing resource %q: %w", spec.ID, err)
		}
		value = nil
	}

	rec.Value = value
	rec.IsInitialized = true
	if spec.Dispose != nil {
		capturedValue, capturedConfig, capturedDeps := value, rec.Config, deps
		rec.disposer = func(ctx context.Context) error {
			return spec.Dispose(ctx, capturedValue, capturedConfig, capturedDeps)
		}
	}

	if init.events != nil {
		_, _ = init.events.Emit(ctx, "resources.resource.afterInit", map[string]any{"id": spec.ID, "value": value}, spec.ID, events.EmitOptions{}, nil)
	}
	return nil
}

// Get returns the current value/config/init state for a resource id.
func (init *Initializer) Get(id string) (*Record, bool) {
	rec, ok := init.records[id]
	return rec, ok
}

// teardownInitialized disposes everything booted so far, used when boot
// itself fails partway through.
func (init *Initializer) teardownInitialized(ctx context.Context) {
	_ = init.Dispose(ctx)
}

// Dispose releases every initialized resource in exact reverse
// initialization order. Idempotent per resource: a resource already
// disposed is skipped. Disposer failures are aggregated via multierr and do
// not stop subsequent disposers from running.
func (init *Initializer) Dispose(ctx context.Context) error {
	var combined error
	for i := len(init.order) - 1; i >= 0; i-- {
		id := init.order[i]
		rec, ok := init.records[id]
		if !ok || rec.disposed || rec.disposer == nil {
			if ok {
				rec.disposed = true
			}
			continue
		}
		rec.disposed = true
		if err := rec.disposer(ctx); err != nil {
			wrapped := fmt.Errorf("disposing resource %q: %w", id, err)
			combined = multierr.Append(combined, wrapped)
			if init.events != nil {
				_, _ = init.events.Emit(ctx, "unhandledError", map[string]any{"id": id, "error": wrapped}, id, events.EmitOptions{ContinueOnError: true}, nil)
			}
		}
	}
	init.order = nil
	return combined
}
