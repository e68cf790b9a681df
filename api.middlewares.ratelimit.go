package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per source ip. Buckets idle for
// longer than the configured timeout are swept periodically.
type IPRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     rate.Limit
	burst    int
	idle     time.Duration
	clock    TickerClocker
}

// NewIPRateLimiter creates a rate limiter from the settings.
func NewIPRateLimiter(config *RateLimitConfig, clock TickerClocker) *IPRateLimiter {
	return &IPRateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(config.RequestsPerSecond),
		burst:    config.Burst,
		idle:     config.IdleTimeout,
		clock:    clock,
	}
}

// Allow reports whether the ip can make one more request now.
func (rl *IPRateLimiter) Allow(ip string) bool {
	now := rl.clock.Now()
	rl.mu.Lock()
	v, exists := rl.visitors[ip]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	rl.mu.Unlock()
	return v.limiter.AllowN(now, 1)
}

// Sweep drops the buckets not used since the idle timeout.
func (rl *IPRateLimiter) Sweep() int {
	deadline := rl.clock.Now().Add(-rl.idle)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	removed := 0
	for ip, v := range rl.visitors {
		if v.lastSeen.Before(deadline) {
			delete(rl.visitors, ip)
			removed++
		}
	}
	return removed
}

// Run sweeps idle buckets until the context is done.
func (rl *IPRateLimiter) Run(ctx context.Context, logger *zap.Logger) error {
	ticker := rl.clock.NewTicker(rl.idle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := rl.Sweep(); n > 0 {
				logger.Debug("ratelimit: idle visitors removed", zap.Int("count", n))
			}
		}
	}
}

// RateLimitMiddleware rejects the requests of a source ip which exceeded its budget.
func (api *APIHandler) RateLimitMiddleware(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ip := GetRequestSourceIP(r)
		if api.limiter.Allow(ip) {
			next(w, r, ps)
			return
		}
		api.GetLoggerFromContext(r.Context()).Warn("ratelimit: too many requests", zap.String("request.ip", ip))
		w.Header().Set("Retry-After", "60")
		if err := writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"requestid": GetValueFromContext(r.Context(), ContextRequestID),
			"status":    http.StatusTooManyRequests,
			"message":   "too many requests, please try again later.",
		}); err != nil {
			api.GetLoggerFromContext(r.Context()).Error("failed to send rate limit response", zap.Error(err))
		}
	}
}
