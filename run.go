package runner

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/pumped-fn/runner/internal/depgraph"
	"github.com/pumped-fn/runner/internal/events"
	"github.com/pumped-fn/runner/internal/kerrors"
	"github.com/pumped-fn/runner/internal/logging"
	"github.com/pumped-fn/runner/internal/platform"
	"github.com/pumped-fn/runner/internal/resources"
	"github.com/pumped-fn/runner/internal/store"
	"github.com/pumped-fn/runner/internal/tasks"
)

// builtinEvents are defined on every kernel so lifecycle emissions never hit
// kerrors.EventNotFound, mirroring the fixed internal event set spec.md §4.9
// and §4.8 assume exist before any user registration runs.
var builtinEvents = []string{
	"ready",
	"resources.beforeInit", "resources.afterInit",
	"resources.resource.beforeInit", "resources.resource.afterInit", "resources.resource.onError",
	"task.beforeRun", "tasks.beforeRun",
	"task.afterRun", "tasks.afterRun",
	"task.onError", "tasks.onError",
	"unhandledError",
}

// Override is a forced, top-level rebinding applied after the registration
// tree is fully loaded, the Go shape of opts.overrides in spec.md §6.
type Override struct {
	ID         string
	Kind       store.Kind
	Definition any
	DependsOn  []string
	Tags       []string
	Config     any
}

// Options configures one Run call, the Go shape of spec.md §6's opts.
type Options struct {
	// Debug selects the default logger's threshold: "verbose" sets trace;
	// any other value, "normal" and "" included, leaves it at info. It is
	// ignored when Logger is set.
	Debug string
	// DryRun builds and validates the registration tree and rejects static
	// event-emission cycles. Resources are still booted, and instead of
	// emitting "ready" every builtin lifecycle event is emitted once with
	// cycle detection forced on, which runs any hooks listening on those
	// events. The returned RunResult is live: tasks can be run against it.
	DryRun bool
	// Overrides is the forced override list, applied after tree load and
	// before dependency/cycle validation.
	Overrides []Override
	// ShutdownHooks, when true, attaches a platform signal handler that calls
	// the returned RunResult's Dispose.
	ShutdownHooks bool
	// RuntimeEventCycleDetection enables emission-time cycle checking on the
	// "ready" emission and on every RunResult.EmitEvent call by default.
	RuntimeEventCycleDetection bool
	// Logger, if set, is used instead of a kernel-constructed default.
	Logger *logging.Logger
	// Platform, if set, is used instead of platform.Detect().
	Platform platform.Adapter
}

// RunOption modifies Options, mirroring pumped-go's ScopeOption pattern in
// scope.go (NewScope(opts ...ScopeOption)) generalized to Run's opts.
type RunOption func(*Options)

func WithDebug(mode string) RunOption { return func(o *Options) { o.Debug = mode } }
func WithDryRun(dryRun bool) RunOption { return func(o *Options) { o.DryRun = dryRun } }
func WithOverrides(overrides ...Override) RunOption {
	return func(o *Options) { o.Overrides = append(o.Overrides, overrides...) }
}
func WithShutdownHooks(enabled bool) RunOption { return func(o *Options) { o.ShutdownHooks = enabled } }
func WithRuntimeEventCycleDetection(enabled bool) RunOption {
	return func(o *Options) { o.RuntimeEventCycleDetection = enabled }
}
func WithLogger(l *logging.Logger) RunOption { return func(o *Options) { o.Logger = l } }
func WithPlatform(p platform.Adapter) RunOption { return func(o *Options) { o.Platform = p } }

// NewOptions assembles an Options value from RunOption modifiers, the
// functional-option surface described in SPEC_FULL.md §4.2. Run itself
// still takes a plain Options struct — the common alternative Go idiom —
// since a host embedding Run in its own config loader usually already has
// a populated struct rather than a list of closures to apply.
func NewOptions(opts ...RunOption) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// loader accumulates tree-walk state while recursively registering a
// registration tree into the Store and EventManager.
type loader struct {
	store      *store.Store
	events     *events.Manager
	visited    map[string]bool
	configured []ConfiguredResource
}

// Run is the runner kernel's entry point. root is a ResourceDefinition or
// ConfiguredResource; its Register tree is walked recursively into a fresh
// Store, resources boot in topological order, tasks and hooks are wired,
// and a RunResult façade is returned. Every run constructs an entirely new
// kernel, per spec.md §5's "each run() constructs a fresh kernel" policy.
func Run(ctx context.Context, root any, opts Options) (*RunResult, error) {
	rootID, err := rootResourceID(root)
	if err != nil {
		return nil, err
	}

	st := store.New()
	ev := events.NewManager()
	resInit := resources.NewInitializer(ev)
	taskRunner := tasks.NewRunner(ev)

	logger := opts.Logger
	if logger == nil {
		threshold := logging.LevelInfo
		if opts.Debug == "verbose" {
			threshold = logging.LevelTrace
		}
		logger = logging.New(logging.WithThreshold(threshold), logging.WithSource("runner"))
	}

	plat := opts.Platform
	if plat == nil {
		plat = platform.Detect()
	}

	for _, id := range builtinEvents {
		ev.DefineEvent(&events.Definition{ID: id})
	}

	ld := &loader{store: st, events: ev, visited: map[string]bool{}}
	if err := ld.load(root); err != nil {
		return nil, err
	}

	for _, cr := range ld.configured {
		if err := st.RegisterConfigured(cr.ResourceID, cr.Config); err != nil {
			return nil, err
		}
	}

	for _, o := range opts.Overrides {
		st.AddOverride(store.Override{
			ID: o.ID, Kind: o.Kind, Definition: o.Definition,
			DependsOn: o.DependsOn, Tags: o.Tags, Config: o.Config,
		})
	}
	if err := st.ApplyOverrides(); err != nil {
		return nil, err
	}

	if err := validateGraph(st); err != nil {
		return nil, err
	}

	if opts.DryRun {
		if err := staticEventEmissionGraph(st); err != nil {
			return nil, err
		}
	}

	for _, rec := range st.ByKind(store.KindResourceMiddleware) {
		def := rec.Definition.(ResourceMiddlewareDefinition)
		resInit.RegisterMiddleware(&resources.Middleware{
			ID: def.ID, Everywhere: def.Everywhere, Predicate: def.Predicate, Wrap: def.Run,
		})
	}
	for _, rec := range st.ByKind(store.KindTaskMiddleware) {
		def := rec.Definition.(TaskMiddlewareDefinition)
		taskRunner.RegisterMiddleware(&tasks.Middleware{
			ID: def.ID, Everywhere: def.Everywhere, Predicate: def.Predicate, Wrap: def.Run,
		})
	}

	for _, rec := range st.ByKind(store.KindResource) {
		def := rec.Definition.(ResourceDefinition)
		resDepIDs, resDepKeys := resourceOnlyDeps(def.Dependencies, st)
		resInit.RegisterResource(&resources.Spec{
			ID:            def.ID,
			Init:          def.Init,
			Dispose:       def.Dispose,
			ConfigSchema:  def.ConfigSchema,
			Attached:      def.Middleware,
			DependsOn:     resDepIDs,
			DependencyKey: resDepKeys,
		}, rec.Config)
	}

	resolveResourceDeps := func(resourceID string) map[string]any {
		rec, ok := st.Get(resourceID)
		if !ok {
			return nil
		}
		def, ok := rec.Definition.(ResourceDefinition)
		if !ok {
			return nil
		}
		return buildDepsMap(def.Dependencies, st, resInit, taskRunner)
	}
	if err := resInit.Boot(ctx, resolveResourceDeps); err != nil {
		return nil, err
	}

	for _, rec := range st.ByKind(store.KindTask) {
		def := rec.Definition.(TaskDefinition)
		deps := buildDepsMap(def.Dependencies, st, resInit, taskRunner)
		taskRunner.RegisterTask(&tasks.Spec{
			ID:           def.ID,
			Run:          def.Run,
			InputSchema:  def.InputSchema,
			ResultSchema: def.ResultSchema,
			Attached:     def.Middleware,
			DependsOn:    depIDs(def.Dependencies),
		}, deps)
	}

	for _, rec := range st.ByKind(store.KindHook) {
		def := rec.Definition.(HookDefinition)
		deps := buildDepsMap(def.Dependencies, st, resInit, taskRunner)
		eventID := def.On
		if eventID == "" {
			eventID = "*"
		}
		listener := &events.Listener{
			ID: def.ID, EventID: eventID, Order: def.Order,
			Handler: func(ctx context.Context, e *events.Emission) error {
				return def.Run(ctx, e, deps)
			},
		}
		if err := ev.AddListener(listener); err != nil {
			return nil, err
		}
	}

	st.Lock()
	taskRunner.Lock()
	ev.Lock()

	if opts.DryRun {
		if err := dryRunProbe(ctx, ev); err != nil {
			_ = resInit.Dispose(ctx)
			return nil, err
		}
	} else {
		emitOpts := events.EmitOptions{RuntimeCycleCheck: opts.RuntimeEventCycleDetection}
		if _, err := ev.Emit(ctx, "ready", nil, "runner", emitOpts, nil); err != nil {
			_ = resInit.Dispose(ctx)
			return nil, err
		}
	}

	rootRec, _ := resInit.Get(rootID)
	var rootValue any
	if rootRec != nil {
		rootValue = rootRec.Value
	}

	result := &RunResult{
		value:        rootValue,
		store:        st,
		logger:       logger,
		eventManager: ev,
		taskRunner:   taskRunner,
		resourceInit: resInit,
		cycleCheck:   opts.RuntimeEventCycleDetection,
	}

	if opts.ShutdownHooks {
		result.shutdownDisposer = plat.OnShutdownSignal(func(_ os.Signal) {
			_ = result.Dispose(context.Background())
		})
	}

	return result, nil
}

func rootResourceID(root any) (string, error) {
	switch v := root.(type) {
	case ResourceDefinition:
		return v.ID, nil
	case ConfiguredResource:
		return v.ResourceID, nil
	default:
		return "", kerrors.NewUnknownItemType(root)
	}
}

// load walks one registration-tree node into the Store, recursing into its
// children. A resource id reached a second time (the same resource shared by
// two parents) is a no-op, not a kerrors.Duplicate, since a DAG of shared
// resources is the expected shape of a registration tree. A task registered
// under an id already in the Store fails with kerrors.Duplicate.
func (ld *loader) load(item any) error {
	switch v := item.(type) {
	case ResourceDefinition:
		if ld.visited[v.ID] {
			return nil
		}
		ld.visited[v.ID] = true
		if err := ld.store.Register(&store.Record{
			ID: v.ID, Kind: store.KindResource, Definition: v,
			DependsOn: depIDs(v.Dependencies), Tags: v.Tags,
			ConfigMerger: v.ConfigMerger,
		}); err != nil {
			return err
		}
		for _, child := range v.Register {
			if err := ld.load(child); err != nil {
				return err
			}
		}
		return nil

	case ConfiguredResource:
		ld.configured = append(ld.configured, v)
		return nil

	case TaskDefinition:
		return ld.store.Register(&store.Record{
			ID: v.ID, Kind: store.KindTask, Definition: v,
			DependsOn: depIDs(v.Dependencies), Tags: v.Tags,
		})

	case EventDefinition:
		if ld.visited[v.ID] {
			return nil
		}
		ld.visited[v.ID] = true
		ld.events.DefineEvent(&events.Definition{
			ID: v.ID, Parallel: !v.Sequential, Schema: v.Schema, Meta: v.Meta, Tags: v.Tags,
		})
		return ld.store.Register(&store.Record{ID: v.ID, Kind: store.KindEvent, Definition: v, Tags: v.Tags})

	case HookDefinition:
		if ld.visited[v.ID] {
			return nil
		}
		ld.visited[v.ID] = true
		return ld.store.Register(&store.Record{
			ID: v.ID, Kind: store.KindHook, Definition: v, DependsOn: depIDs(v.Dependencies),
		})

	case TaskMiddlewareDefinition:
		if ld.visited[v.ID] {
			return nil
		}
		ld.visited[v.ID] = true
		return ld.store.Register(&store.Record{ID: v.ID, Kind: store.KindTaskMiddleware, Definition: v})

	case ResourceMiddlewareDefinition:
		if ld.visited[v.ID] {
			return nil
		}
		ld.visited[v.ID] = true
		return ld.store.Register(&store.Record{ID: v.ID, Kind: store.KindResourceMiddleware, Definition: v})

	case TagDefinition:
		if ld.visited[v.ID] {
			return nil
		}
		ld.visited[v.ID] = true
		return ld.store.Register(&store.Record{ID: v.ID, Kind: store.KindTag, Definition: v})

	default:
		return kerrors.NewUnknownItemType(item)
	}
}

func depIDs(deps []Dependency) []string {
	ids := make([]string, 0, len(deps))
	for _, d := range deps {
		ids = append(ids, d.ID)
	}
	return ids
}

// resourceOnlyDeps filters a Dependency list down to the subset targeting
// other resources: resources.Initializer's internal depgraph treats every
// DependsOn entry as a resource id, so a dependency on a task or tag must
// not appear there even though it is still validated by the kernel-wide
// graph check in validateGraph.
func resourceOnlyDeps(deps []Dependency, st *store.Store) (ids []string, keys []string) {
	for _, d := range deps {
		if rec, ok := st.Get(d.ID); ok && rec.Kind == store.KindResource {
			ids = append(ids, d.ID)
			keys = append(keys, d.Key)
		}
	}
	return
}

// buildDepsMap resolves one item's Dependency list into the map[string]any
// handed to its Init/Run/hook body: resource targets read the already
// booted value, task targets are bound to a closure that calls the runner's
// TaskRunner lazily. A dependency on anything else (event, tag, hook) has
// no static value and is simply absent from the map, a deliberate Go-native
// simplification of spec.md's generic dependency-bag type parameter.
func buildDepsMap(deps []Dependency, st *store.Store, resInit *resources.Initializer, taskRunner *tasks.Runner) map[string]any {
	if len(deps) == 0 {
		return nil
	}
	out := make(map[string]any, len(deps))
	for _, d := range deps {
		rec, ok := st.Get(d.ID)
		if !ok {
			continue
		}
		switch rec.Kind {
		case store.KindResource:
			if r, ok := resInit.Get(d.ID); ok {
				out[d.Key] = r.Value
			}
		case store.KindTask:
			id := d.ID
			out[d.Key] = func(ctx context.Context, input any) (any, error) {
				return taskRunner.Run(ctx, id, input)
			}
		}
	}
	return out
}

// validateGraph runs one dependency-resolution pass over every registered
// item regardless of kind, per spec.md §8's universal "at most one record"
// and acyclic-graph properties. It catches both a plain missing dependency
// and a cycle spanning any mix of kinds (e.g. two tasks depending on each
// other through thunks, spec.md §8 scenario 2).
func validateGraph(st *store.Store) error {
	records := st.All()
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	nodes := make([]depgraph.Node, 0, len(records))
	for _, rec := range records {
		nodes = append(nodes, depgraph.Node{ID: rec.ID, DependsOn: rec.DependsOn})
	}
	graph := depgraph.Resolve(nodes)

	if len(graph.Missing) > 0 {
		m := graph.Missing[0]
		rec, _ := st.Get(m.Consumer)
		consumer := m.Consumer
		if rec != nil {
			consumer = fmt.Sprintf("%s %s", rec.Kind, rec.ID)
		}
		return kerrors.NewDependencyNotFound(consumer, m.Key)
	}
	if len(graph.Cycles) > 0 {
		return kerrors.NewCircularDependencies(graph.Cycles)
	}
	return nil
}

// staticEventEmissionGraph builds the hook→event / task→emits graph from
// declarations alone — no emission, no hook or task runs — and rejects any
// cycle before a single resource initializes, per spec.md §4.5: "at
// dry-run time the kernel builds the full emission graph from static
// declarations (hook→event, task→emits) and rejects any cycles before
// initialization." An edge runs from the event a hook listens On to every
// event declared in Emits on a task that hook depends on: emitting the
// On-event would run the hook, which would run the task, which would emit
// those events. Catch-all ("*") hooks are not edges in this graph since
// they do not name a single triggering event.
func staticEventEmissionGraph(st *store.Store) error {
	edges := map[string]map[string]bool{}
	addEdge := func(from, to string) {
		if edges[from] == nil {
			edges[from] = map[string]bool{}
		}
		edges[from][to] = true
	}

	for _, rec := range st.ByKind(store.KindHook) {
		hook, ok := rec.Definition.(HookDefinition)
		if !ok || hook.On == "" || hook.On == "*" {
			continue
		}
		for _, dep := range hook.Dependencies {
			depRec, ok := st.Get(dep.ID)
			if !ok || depRec.Kind != store.KindTask {
				continue
			}
			task, ok := depRec.Definition.(TaskDefinition)
			if !ok {
				continue
			}
			for _, emitted := range task.Emits {
				addEdge(hook.On, emitted)
			}
		}
	}
	if len(edges) == 0 {
		return nil
	}

	nodeSet := map[string]bool{}
	for from, tos := range edges {
		nodeSet[from] = true
		for to := range tos {
			nodeSet[to] = true
		}
	}
	ids := make([]string, 0, len(nodeSet))
	for id := range nodeSet {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	nodes := make([]depgraph.Node, 0, len(ids))
	for _, id := range ids {
		deps := make([]string, 0, len(edges[id]))
		for to := range edges[id] {
			deps = append(deps, to)
		}
		sort.Strings(deps)
		nodes = append(nodes, depgraph.Node{ID: id, DependsOn: deps})
	}

	graph := depgraph.Resolve(nodes)
	if len(graph.Cycles) > 0 {
		return kerrors.NewEventEmissionCycle(strings.Split(graph.Cycles[0], " -> "))
	}
	return nil
}

// dryRunProbe exercises every builtin (always-registered) lifecycle event
// once, with cycle detection forced on, as a best-effort wiring check
// complementing staticEventEmissionGraph's declaration-only pass — a hook
// attached to a builtin event can still introduce a cycle that only a real
// emission attempt (recovered from panics) would surface. Application
// panics from handlers that assume live payload data are recovered and
// ignored: a dry-run probe is best-effort wiring validation, not a real
// emission.
func dryRunProbe(ctx context.Context, ev *events.Manager) (err error) {
	ids := make([]string, 0, len(builtinEvents))
	ids = append(ids, builtinEvents...)
	sort.Strings(ids)
	for _, id := range ids {
		if probeErr := safeEmit(ctx, ev, id); probeErr != nil {
			return probeErr
		}
	}
	return nil
}

func safeEmit(ctx context.Context, ev *events.Manager, id string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = nil
		}
	}()
	_, emitErr := ev.Emit(ctx, id, nil, "dryRun", events.EmitOptions{RuntimeCycleCheck: true, ContinueOnError: true}, nil)
	if kerrors.IsEventEmissionCycle(emitErr) {
		return emitErr
	}
	return nil
}

// RunResult is the public, disposable handle returned by Run.
type RunResult struct {
	mu       sync.Mutex
	disposed bool
	disposeErr error

	value        any
	store        *store.Store
	logger       *logging.Logger
	eventManager *events.Manager
	taskRunner   *tasks.Runner
	resourceInit *resources.Initializer
	cycleCheck   bool

	shutdownDisposer platform.Disposer
}

// Value returns the root resource's resolved value.
func (r *RunResult) Value() any { return r.value }

// Store exposes the Store for integration tooling.
func (r *RunResult) Store() *store.Store { return r.store }

// Logger exposes the kernel's Logger.
func (r *RunResult) Logger() *logging.Logger { return r.logger }

// EventManager exposes the kernel's EventManager.
func (r *RunResult) EventManager() *events.Manager { return r.eventManager }

// TaskRunner exposes the kernel's TaskRunner.
func (r *RunResult) TaskRunner() *tasks.Runner { return r.taskRunner }

func (r *RunResult) isDisposed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disposed
}

// RunTask looks up a task by id (a string, or a TaskDefinition) and runs it.
func (r *RunResult) RunTask(ctx context.Context, taskOrID any, input any) (any, error) {
	if r.isDisposed() {
		return nil, kerrors.ErrDisposed
	}
	id, err := idOf(taskOrID)
	if err != nil {
		return nil, err
	}
	return r.taskRunner.Run(ctx, id, input)
}

// EmitEvent looks up an event by id (a string, or an EventDefinition) and
// emits it.
func (r *RunResult) EmitEvent(ctx context.Context, eventOrID any, payload any, opts events.EmitOptions) (*events.EmitReport, error) {
	if r.isDisposed() {
		return nil, kerrors.ErrDisposed
	}
	id, err := idOf(eventOrID)
	if err != nil {
		return nil, err
	}
	if r.cycleCheck {
		opts.RuntimeCycleCheck = true
	}
	return r.eventManager.Emit(ctx, id, payload, "runResult", opts, nil)
}

// GetResourceValue returns the resolved value for a resource id.
func (r *RunResult) GetResourceValue(resourceOrID any) (any, bool) {
	id, err := idOf(resourceOrID)
	if err != nil {
		return nil, false
	}
	rec, ok := r.resourceInit.Get(id)
	if !ok {
		return nil, false
	}
	return rec.Value, true
}

// GetResourceConfig returns the merged config for a resource id.
func (r *RunResult) GetResourceConfig(resourceOrID any) (any, bool) {
	id, err := idOf(resourceOrID)
	if err != nil {
		return nil, false
	}
	rec, ok := r.resourceInit.Get(id)
	if !ok {
		return nil, false
	}
	return rec.Config, true
}

// Dispose tears down resources in reverse init order, then the event
// manager. Disposers run at most once, even if the first call failed, and
// the runtime is marked disposed either way. A call made after the first
// call has finished returns the first call's error; a call made while the
// first is still running returns nil at once, without waiting for it.
func (r *RunResult) Dispose(ctx context.Context) error {
	r.mu.Lock()
	if r.disposed {
		err := r.disposeErr
		r.mu.Unlock()
		return err
	}
	r.disposed = true
	r.mu.Unlock()

	err := r.resourceInit.Dispose(ctx)
	r.eventManager.Dispose()
	if r.shutdownDisposer != nil {
		r.shutdownDisposer()
	}

	r.mu.Lock()
	r.disposeErr = err
	r.mu.Unlock()
	return err
}

func idOf(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case TaskDefinition:
		return t.ID, nil
	case ResourceDefinition:
		return t.ID, nil
	case EventDefinition:
		return t.ID, nil
	default:
		return "", kerrors.NewUnknownItemType(v)
	}
}
