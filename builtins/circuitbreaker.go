// Circuit-breaker middleware: closed/open/half-open state machine,
// grounded on r3e-network's infrastructure/resilience/circuit_breaker.go,
// adapted from a standalone Execute(fn) wrapper into a task middleware
// whose Wrap IS the fn under protection.
package builtins

import (
	"context"
	"sync"
	"time"

	"github.com/pumped-fn/runner/internal/kerrors"
	"github.com/pumped-fn/runner/internal/tasks"
)

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// CircuitBreakerConfig controls the circuit-breaker middleware.
type CircuitBreakerConfig struct {
	Threshold     int           // consecutive failures before opening
	CooldownMs    int64         // time spent open before probing half-open
	HalfOpenProbes int          // successes required in half-open before closing
}

type circuitBreaker struct {
	mu          sync.Mutex
	cfg         CircuitBreakerConfig
	state       circuitState
	failures    int
	successes   int
	halfOpenReq int
	openedAt    time.Time
}

func newCircuitBreaker(cfg CircuitBreakerConfig) *circuitBreaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.CooldownMs <= 0 {
		cfg.CooldownMs = 30_000
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 1
	}
	return &circuitBreaker{cfg: cfg, state: circuitClosed}
}

func (cb *circuitBreaker) before(name string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case circuitOpen:
		if time.Since(cb.openedAt) > time.Duration(cb.cfg.CooldownMs)*time.Millisecond {
			cb.state = circuitHalfOpen
			cb.halfOpenReq = 0
			cb.successes = 0
			return nil
		}
		return kerrors.NewMiddlewareCircuitBreakerOpen(name)
	case circuitHalfOpen:
		if cb.halfOpenReq >= cb.cfg.HalfOpenProbes {
			return kerrors.NewMiddlewareCircuitBreakerOpen(name)
		}
		cb.halfOpenReq++
	}
	return nil
}

func (cb *circuitBreaker) after(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if success {
		switch cb.state {
		case circuitHalfOpen:
			cb.successes++
			if cb.successes >= cb.cfg.HalfOpenProbes {
				cb.state = circuitClosed
				cb.failures = 0
			}
		case circuitClosed:
			cb.failures = 0
		}
		return
	}

	cb.failures++
	switch cb.state {
	case circuitHalfOpen:
		cb.state = circuitOpen
		cb.openedAt = time.Now()
	case circuitClosed:
		if cb.failures >= cb.cfg.Threshold {
			cb.state = circuitOpen
			cb.openedAt = time.Now()
		}
	}
}

// CircuitBreaker builds a task middleware implementing the half-open state
// machine of spec.md §4.10.
func CircuitBreaker(id string, cfg CircuitBreakerConfig) *tasks.Middleware {
	cb := newCircuitBreaker(cfg)
	return &tasks.Middleware{
		ID: id,
		Wrap: func(ctx context.Context, taskID string, input any, deps map[string]any, next tasks.Next) (any, error) {
			if err := cb.before(id); err != nil {
				return nil, err
			}
			out, err := next(ctx, input)
			cb.after(err == nil)
			return out, err
		},
	}
}
