package resilience

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiterRegistry holds one golang.org/x/time/rate.Limiter per named
// remote (e.g. "gitlab_api", "datadog_api", "aws_api"). Outbound adapters
// that talk to the same host share one budget instead of each
// constructing its own, so a shared registry built once at process
// startup and handed to every platform client reflects the real call
// volume against that remote.
type RateLimiterRegistry struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewRateLimiterRegistry() *RateLimiterRegistry {
	return &RateLimiterRegistry{limiters: make(map[string]*rate.Limiter)}
}

// Limiter returns the named limiter, creating it with ratePerMinute/burst
// on first use. A later call for the same name ignores ratePerMinute and
// burst and returns the limiter already in place.
func (r *RateLimiterRegistry) Limiter(name string, ratePerMinute float64, burst int) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[name]; ok {
		return l
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 300
	}
	if burst <= 0 {
		burst = 20
	}
	l := rate.NewLimiter(rate.Limit(ratePerMinute/60.0), burst)
	r.limiters[name] = l
	return l
}

// Wait blocks until the named remote's budget admits one more call, or
// until ctx is cancelled.
func (r *RateLimiterRegistry) Wait(ctx context.Context, name string, ratePerMinute float64, burst int) error {
	return r.Limiter(name, ratePerMinute, burst).Wait(ctx)
}
