package builtins

import (
	"context"
	"sync"

	"github.com/pumped-fn/runner/internal/semaphore"
	"github.com/pumped-fn/runner/internal/tasks"
)

// ConcurrencyConfig names the semaphore pool a task competes for.
type ConcurrencyConfig struct {
	Limit int64
	Name  string
}

// ConcurrencyPool hands out named semaphores, the Go analogue of
// spec.md's concurrencyResource: built-in resource backing the
// concurrency middleware.
type ConcurrencyPool struct {
	mu    sync.Mutex
	pools map[string]*semaphore.Semaphore
}

func NewConcurrencyPool() *ConcurrencyPool {
	return &ConcurrencyPool{pools: map[string]*semaphore.Semaphore{}}
}

func (p *ConcurrencyPool) get(name string, limit int64) *semaphore.Semaphore {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.pools[name]; ok {
		return s
	}
	s := semaphore.New(limit)
	p.pools[name] = s
	return s
}

// Concurrency builds a task middleware that acquires a permit from the
// named semaphore before running, releasing it afterward regardless of
// outcome.
func Concurrency(id string, cfg ConcurrencyConfig, pool *ConcurrencyPool) *tasks.Middleware {
	name := cfg.Name
	if name == "" {
		name = id
	}
	return &tasks.Middleware{
		ID: id,
		Wrap: func(ctx context.Context, taskID string, input any, deps map[string]any, next tasks.Next) (any, error) {
			sem := pool.get(name, cfg.Limit)
			release, err := sem.Acquire(ctx, 1)
			if err != nil {
				return nil, err
			}
			defer release()
			return next(ctx, input)
		},
	}
}
