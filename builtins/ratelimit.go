// Rate-limit middleware, grounded on r3e-network's
// infrastructure/ratelimit/ratelimit.go, which wraps golang.org/x/time/rate
// for a token-bucket limiter keyed by a caller identity. Here the key is
// whatever KeyFunc derives from the task input, per spec.md's
// "{name, key(input)}" contract.
package builtins

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/pumped-fn/runner/internal/kerrors"
	"github.com/pumped-fn/runner/internal/tasks"
)

// RateLimitConfig controls the rate-limit middleware.
type RateLimitConfig struct {
	Name      string
	KeyFunc   func(input any) string
	RatePerS  float64
	Burst     int
}

// RateLimiterPool hands out one token bucket per (name, key) pair,
// refilling by wall clock the way rate.Limiter always does.
type RateLimiterPool struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewRateLimiterPool() *RateLimiterPool {
	return &RateLimiterPool{limiters: map[string]*rate.Limiter{}}
}

func (p *RateLimiterPool) get(bucketKey string, ratePerS float64, burst int) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.limiters[bucketKey]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(ratePerS), burst)
	p.limiters[bucketKey] = l
	return l
}

// RateLimit builds a task middleware that rejects with
// kerrors.MiddlewareRateLimitExceeded once the named bucket for the derived
// key is exhausted.
func RateLimit(id string, cfg RateLimitConfig, pool *RateLimiterPool) *tasks.Middleware {
	return &tasks.Middleware{
		ID: id,
		Wrap: func(ctx context.Context, taskID string, input any, deps map[string]any, next tasks.Next) (any, error) {
			key := ""
			if cfg.KeyFunc != nil {
				key = cfg.KeyFunc(input)
			}
			limiter := pool.get(cfg.Name+"|"+key, cfg.RatePerS, cfg.Burst)
			if !limiter.Allow() {
				return nil, kerrors.NewMiddlewareRateLimitExceeded(cfg.Name, key)
			}
			return next(ctx, input)
		},
	}
}
