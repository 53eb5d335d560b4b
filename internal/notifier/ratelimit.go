package notifier

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles dispatches per tenant. Callers block in Wait until
// a token is available rather than having their batch dropped.
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	limit     rate.Limit
	burst     int
	throttled int64
	enabled   bool
}

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	MaxPerWindow int           // Dispatches per window per tenant (default: 10)
	Window       time.Duration // Time window (default: 1 minute)
	Burst        int           // Tokens available at once (default: MaxPerWindow)
	Enabled      bool          // Whether rate limiting is enabled (default: true)
}

// DefaultRateLimitConfig returns default rate limit settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxPerWindow: 10,
		Window:       time.Minute,
		Enabled:      true,
	}
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.MaxPerWindow <= 0 {
		config.MaxPerWindow = 10
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.Burst <= 0 {
		config.Burst = config.MaxPerWindow
	}

	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(config.MaxPerWindow) / config.Window.Seconds()),
		burst:    config.Burst,
		enabled:  config.Enabled,
	}
}

func (r *RateLimiter) limiter(tenantID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[tenantID]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters[tenantID] = l
	}
	return l
}

// Wait blocks until the tenant may dispatch or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context, tenantID string) error {
	if r == nil || !r.enabled {
		return nil
	}
	l := r.limiter(tenantID)
	if !l.Allow() {
		r.mu.Lock()
		r.throttled++
		r.mu.Unlock()
		return l.Wait(ctx)
	}
	return nil
}

// Stats returns rate limiter statistics.
func (r *RateLimiter) Stats() RateLimitStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return RateLimitStats{
		Throttled: r.throttled,
		Tenants:   len(r.limiters),
		Limit:     float64(r.limit),
		Burst:     r.burst,
		Enabled:   r.enabled,
	}
}

// RateLimitStats contains rate limiter statistics.
type RateLimitStats struct {
	Throttled int64   // Dispatches that had to wait for a token
	Tenants   int     // Tenants with a limiter
	Limit     float64 // Tokens per second
	Burst     int     // Bucket size
	Enabled   bool    // Whether rate limiting is enabled
}

// Reset forgets all tenant limiters.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.limiters = make(map[string]*rate.Limiter)
	r.throttled = 0
}
