// Package events implements the EventManager described in spec.md §4.5:
// an ordered listener registry, interceptor chains, propagation control,
// and emission-cycle detection. The interceptor-chain composition follows
// the same reverse-registration-order wrapping pumped-go's Scope.Resolve
// uses for Extension.Wrap in scope.go, generalized from "wrap a resolve"
// to "wrap an emission."
package events

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/pumped-fn/runner/internal/kerrors"
	"github.com/pumped-fn/runner/internal/validation"
)

// Definition is the static shape of a registered event.
type Definition struct {
	ID       string
	Parallel bool
	Schema   validation.Schema
	Meta     map[string]any
	Tags     []string
}

// Listener is a single hook registration.
type Listener struct {
	ID      string
	EventID string // the event id, or "*" for catch-all
	Order   int
	Filter  func(*Emission) bool
	Handler func(context.Context, *Emission) error

	seq int // registration order, used as the order tie-break
}

// Emission is the mutable per-dispatch value handed to listeners and
// interceptors. Meta and Tags are fresh copies of the Definition's map and
// slice, so adding, removing or replacing entries never leaks back into it
// (spec.md §8 testable property); values nested inside them are shared.
type Emission struct {
	ID       string
	EventID  string
	Data     any
	Meta     map[string]any
	Tags     []string
	Source   string

	stopped bool
	stack   []string // cycle-detection stack for this emission chain
}

func (e *Emission) StopPropagation()        { e.stopped = true }
func (e *Emission) IsPropagationStopped() bool { return e.stopped }

// EmissionInterceptor wraps the whole dispatch of one emission.
type EmissionInterceptor func(next func(context.Context, *Emission) error, ctx context.Context, e *Emission) error

// HookInterceptor wraps each individual listener invocation.
type HookInterceptor func(next func(context.Context, *Listener, *Emission) error, ctx context.Context, l *Listener, e *Emission) error

// EmitOptions configures a single Emit call.
type EmitOptions struct {
	Report              bool
	ContinueOnError     bool
	RuntimeCycleCheck   bool
}

// EmitReport is returned when EmitOptions.Report is set.
type EmitReport struct {
	ListenerIDs []string
	Stopped     bool
	Errors      []error
}

// Manager is the EventManager kernel service.
type Manager struct {
	mu                   sync.RWMutex
	definitions          map[string]*Definition
	listeners            map[string][]*Listener // by event id, "*" is the catch-all bucket
	listenerSeq          int
	emissionInterceptors []EmissionInterceptor
	hookInterceptors     []HookInterceptor
	locked               bool
}

func NewManager() *Manager {
	return &Manager{
		definitions: map[string]*Definition{},
		listeners:   map[string][]*Listener{},
	}
}

// DefineEvent registers the static shape of an event. Not itself subject to
// locking (definitions are established during Store.Load, before Lock).
func (m *Manager) DefineEvent(def *Definition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.definitions[def.ID] = def
}

// AddListener registers a listener. Fails with kerrors.Locked once the
// manager has been locked.
func (m *Manager) AddListener(l *Listener) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked {
		return kerrors.NewLocked("event manager")
	}
	m.listenerSeq++
	l.seq = m.listenerSeq
	bucket := l.EventID
	if bucket == "" {
		bucket = "*"
	}
	m.listeners[bucket] = append(m.listeners[bucket], l)
	return nil
}

// UseEmissionInterceptor registers an interceptor around the whole dispatch.
func (m *Manager) UseEmissionInterceptor(i EmissionInterceptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emissionInterceptors = append(m.emissionInterceptors, i)
}

// UseHookInterceptor registers an interceptor around each listener call.
func (m *Manager) UseHookInterceptor(i HookInterceptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hookInterceptors = append(m.hookInterceptors, i)
}

// Lock prevents further AddListener calls.
func (m *Manager) Lock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked = true
}

// Dispose clears all listeners and interceptors, even if locked.
func (m *Manager) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = map[string][]*Listener{}
	m.emissionInterceptors = nil
	m.hookInterceptors = nil
}

func sortedListeners(direct, catchAll []*Listener) []*Listener {
	all := make([]*Listener, 0, len(direct)+len(catchAll))
	all = append(all, direct...)
	all = append(all, catchAll...)
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Order != all[j].Order {
			return all[i].Order < all[j].Order
		}
		return all[i].seq < all[j].seq
	})
	return all
}

// Emit dispatches event with data, running interceptors, validating the
// payload, and calling listeners per the ordering/parallel rules of
// spec.md §4.5. parentStack carries the chain of in-flight emission ids for
// cycle detection (nil for a top-level emission).
func (m *Manager) Emit(ctx context.Context, eventID string, data any, source string, opts EmitOptions, parentStack []string) (*EmitReport, error) {
	m.mu.RLock()
	def, known := m.definitions[eventID]
	direct := append([]*Listener(nil), m.listeners[eventID]...)
	catchAll := append([]*Listener(nil), m.listeners["*"]...)
	emissionInterceptors := append([]EmissionInterceptor(nil), m.emissionInterceptors...)
	hookInterceptors := append([]HookInterceptor(nil), m.hookInterceptors...)
	m.mu.RUnlock()

	if !known {
		return nil, kerrors.NewEventNotFound(eventID)
	}

	if opts.RuntimeCycleCheck {
		for _, id := range parentStack {
			if id == eventID {
				chain := append(append([]string{}, parentStack...), eventID)
				return nil, kerrors.NewEventEmissionCycle(chain)
			}
		}
	}

	emission := &Emission{
		ID:      uuid.NewString(),
		EventID: eventID,
		Data:    data,
		Meta:    copyMeta(def.Meta),
		Tags:    append([]string(nil), def.Tags...),
		Source:  source,
		stack:   append(append([]string{}, parentStack...), eventID),
	}

	dispatch := func(ctx context.Context, e *Emission) error {
		if def.Schema != nil {
			if _, err := def.Schema.Validate(e.Data); err != nil {
				return kerrors.NewValidation("Event payload", eventID, err)
			}
		}
		return m.dispatchListeners(ctx, def, e, sortedListeners(direct, catchAll), hookInterceptors, opts)
	}

	// Compose emission interceptors by wrapping in reverse order, so the
	// first-registered runs outermost and the last-registered sits next to
	// dispatch — the same reverse-order wrapping pumped-go uses for
	// extensions in Scope.Resolve.
	next := dispatch
	for i := len(emissionInterceptors) - 1; i >= 0; i-- {
		interceptor := emissionInterceptors[i]
		innerNext := next
		next = func(ctx context.Context, e *Emission) error {
			return interceptor(innerNext, ctx, e)
		}
	}

	var listenerIDs []string
	m.mu.RLock()
	for _, l := range sortedListeners(direct, catchAll) {
		listenerIDs = append(listenerIDs, l.ID)
	}
	m.mu.RUnlock()

	err := next(ctx, emission)

	if !opts.Report {
		return nil, err
	}

	report := &EmitReport{ListenerIDs: listenerIDs, Stopped: emission.IsPropagationStopped()}
	if err != nil {
		report.Errors = multierr.Errors(err)
	}
	return report, err
}

func (m *Manager) dispatchListeners(ctx context.Context, def *Definition, e *Emission, listeners []*Listener, hookInterceptors []HookInterceptor, opts EmitOptions) error {
	call := func(ctx context.Context, l *Listener) error {
		invoke := func(ctx context.Context, l *Listener, e *Emission) error {
			return l.Handler(ctx, e)
		}
		next := invoke
		for i := len(hookInterceptors) - 1; i >= 0; i-- {
			interceptor := hookInterceptors[i]
			innerNext := next
			next = func(ctx context.Context, l *Listener, e *Emission) error {
				return interceptor(innerNext, ctx, l, e)
			}
		}
		return next(ctx, l, e)
	}

	if def.Parallel {
		var wg sync.WaitGroup
		errs := make([]error, len(listeners))
		for i, l := range listeners {
			if l.Filter != nil && !l.Filter(e) {
				continue
			}
			wg.Add(1)
			go func(i int, l *Listener) {
				defer wg.Done()
				errs[i] = call(ctx, l)
			}(i, l)
		}
		wg.Wait()
		var combined error
		for _, err := range errs {
			if err != nil {
				combined = multierr.Append(combined, err)
			}
		}
		return combined
	}

	for _, l := range listeners {
		if e.IsPropagationStopped() {
			break
		}
		if l.Filter != nil && !l.Filter(e) {
			continue
		}
		if err := call(ctx, l); err != nil {
			if opts.ContinueOnError {
				continue
			}
			return err
		}
	}
	return nil
}

func copyMeta(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
