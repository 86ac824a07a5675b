// Package runner is the public surface of the kernel: frozen descriptors
// for Task/Resource/Event/Hook/TaskMiddleware/ResourceMiddleware/Tag, the
// run(root, opts) entry point, and the RunResult façade. The descriptor
// shape (id, deps, tags, meta carried on an immutable value) is grounded on
// pumped-go's pkg/core Executor/MainExecutor types: a definer returns a
// value that is only ever read from after construction, exactly like an
// Executor once pumped through NewExecutor.
package runner

import (
	"context"

	"github.com/pumped-fn/runner/internal/events"
	"github.com/pumped-fn/runner/internal/resources"
	"github.com/pumped-fn/runner/internal/tasks"
	"github.com/pumped-fn/runner/internal/validation"
)

// Dependency references another item by its id string under a local key.
// Because the reference is a plain id, not a Go value, two items can name
// each other as dependencies regardless of Go initialization order.
type Dependency struct {
	Key string
	ID  string
}

// Deps builds a Dependency list from key/id pairs.
func Deps(pairs ...Dependency) []Dependency { return pairs }

// Dep is shorthand for one Dependency entry.
func Dep(key, id string) Dependency { return Dependency{Key: key, ID: id} }

// TaskDefinition is the frozen descriptor returned by Task(...). Emits
// names the event ids this task's Run body may emit; it carries no runtime
// behavior by itself (Run still calls EventManager.Emit directly) but lets
// the kernel build the static hook→event/task→emits graph dry-run checks
// against per spec.md §4.5, without having to execute a single task.
type TaskDefinition struct {
	ID           string
	Run          func(ctx context.Context, input any, deps map[string]any) (any, error)
	Dependencies []Dependency
	Middleware   []string
	Tags         []string
	Emits        []string
	InputSchema  validation.Schema
	ResultSchema validation.Schema
}

// Task defines a task descriptor. Returns a frozen value; no runtime state
// is attached until the Store materializes a record for it.
func Task(def TaskDefinition) TaskDefinition { return def }

// ResourceDefinition is the frozen descriptor returned by Resource(...).
type ResourceDefinition struct {
	ID           string
	Init         func(ctx context.Context, config any, deps map[string]any) (any, error)
	Dispose      func(ctx context.Context, value any, config any, deps map[string]any) error
	Register     []any // child TaskDefinition/ResourceDefinition/EventDefinition/HookDefinition/... values
	Dependencies []Dependency
	Middleware   []string
	Tags         []string
	ConfigSchema validation.Schema
	ResultSchema validation.Schema
	ConfigMerger func(existing, next any) (any, error)
}

// Resource defines a resource descriptor.
func Resource(def ResourceDefinition) ResourceDefinition { return def }

// ConfiguredResource pairs a resource with a bound config, the result of
// calling `.With` below.
type ConfiguredResource struct {
	ResourceID string
	Config     any
}

// With produces a ConfiguredResource: a distinct, bindable identity pairing
// def with config, per spec.md §3's Resource.with(config) contract.
func (def ResourceDefinition) With(config any) ConfiguredResource {
	return ConfiguredResource{ResourceID: def.ID, Config: config}
}

// EventDefinition is the frozen descriptor returned by Event(...). Listener
// dispatch is parallel by default per spec.md §3; a bare `bool` field can't
// distinguish "left unset" from "explicitly false", so the opt-out is
// spelled the other way round: set Sequential to force in-order, one-at-a-
// time dispatch instead.
type EventDefinition struct {
	ID         string
	Sequential bool
	Schema     validation.Schema
	Meta       map[string]any
	Tags       []string
}

// Event defines an event descriptor. Dispatch is parallel unless Sequential
// is set.
func Event(def EventDefinition) EventDefinition {
	return def
}

// HookDefinition is the frozen descriptor returned by Hook(...).
type HookDefinition struct {
	ID           string
	On           string // an event id, or "*" for catch-all
	Order        int
	Dependencies []Dependency
	Run          func(ctx context.Context, emission *events.Emission, deps map[string]any) error
}

// Hook defines a hook descriptor.
func Hook(def HookDefinition) HookDefinition { return def }

// TaskMiddlewareDefinition is the frozen descriptor returned by
// TaskMiddlewareDef(...).
type TaskMiddlewareDefinition struct {
	ID         string
	Everywhere bool
	Predicate  func(taskID string) bool
	Run        tasks.MiddlewareFunc
}

// TaskMiddlewareDef defines a task middleware descriptor. Its Run field has
// the internal tasks.MiddlewareFunc type.
func TaskMiddlewareDef(def TaskMiddlewareDefinition) TaskMiddlewareDefinition { return def }

// ResourceMiddlewareDefinition is the frozen descriptor returned by
// ResourceMiddlewareDef(...).
type ResourceMiddlewareDefinition struct {
	ID         string
	Everywhere bool
	Predicate  func(resourceID string) bool
	Run        func(ctx context.Context, resourceID string, config any, deps map[string]any, next resources.Next) (any, error)
}

// ResourceMiddlewareDef defines a resource middleware descriptor.
func ResourceMiddlewareDef(def ResourceMiddlewareDefinition) ResourceMiddlewareDefinition {
	return def
}

// TagDefinition is the frozen descriptor returned by TagDef(...).
type TagDefinition struct {
	ID   string
	Meta map[string]any
}

// TagDef defines a tag descriptor.
func TagDef(def TagDefinition) TagDefinition { return def }
