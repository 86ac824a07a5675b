// Tunnel middleware reroutes calls to task ids that have been declared
// tunnel-routed to a remote executor instead of running them locally.
// spec.md classifies this as resource middleware because it is normally
// attached through a tunnel resource's registration rather than directly on
// a task, but the thing it wraps is a task invocation, so it is expressed
// here the same way every other task middleware is: a tasks.Middleware the
// tunnel resource's init attaches globally.
package builtins

import (
	"context"
	"sync"

	"github.com/pumped-fn/runner/internal/kerrors"
	"github.com/pumped-fn/runner/internal/tasks"
)

// RemoteExecutor runs a tunnel-routed task on the other side of the tunnel.
type RemoteExecutor func(ctx context.Context, taskID string, input any) (any, error)

// TunnelRouter tracks which task ids are tunnel-routed and which remote
// executor, if any, currently owns each one. Only one executor may own a
// given task id at a time.
type TunnelRouter struct {
	mu      sync.Mutex
	routed  map[string]bool
	routes  map[string]RemoteExecutor
}

func NewTunnelRouter() *TunnelRouter {
	return &TunnelRouter{routed: map[string]bool{}, routes: map[string]RemoteExecutor{}}
}

// DeclareRouted marks taskID as one that must be tunneled rather than run
// locally.
func (r *TunnelRouter) DeclareRouted(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routed[taskID] = true
}

// Register binds the exclusive remote executor for taskID. A second
// registration for the same id fails with kerrors.Duplicate.
func (r *TunnelRouter) Register(taskID string, exec RemoteExecutor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.routes[taskID]; exists {
		return kerrors.NewDuplicate("TunnelRoute", taskID)
	}
	r.routes[taskID] = exec
	return nil
}

func (r *TunnelRouter) lookup(taskID string) (RemoteExecutor, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exec, routedAndRegistered := r.routes[taskID]
	return exec, r.routed[taskID], routedAndRegistered
}

// Tunnel builds the task middleware: tasks not declared tunnel-routed pass
// straight through to next(); declared-but-unregistered ids fail with
// kerrors.PhantomTaskNotRouted; registered ids run on the remote executor,
// with its failures wrapped as kerrors.DurableExecution.
func Tunnel(id string, router *TunnelRouter) *tasks.Middleware {
	return &tasks.Middleware{
		ID: id,
		Wrap: func(ctx context.Context, taskID string, input any, deps map[string]any, next tasks.Next) (any, error) {
			exec, isRouted, isRegistered := router.lookup(taskID)
			if !isRouted {
				return next(ctx, input)
			}
			if !isRegistered {
				return nil, kerrors.NewPhantomTaskNotRouted(taskID)
			}
			out, err := exec(ctx, taskID, input)
			if err != nil {
				return nil, kerrors.NewDurableExecution(taskID, err)
			}
			return out, nil
		},
	}
}
