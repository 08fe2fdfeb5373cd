package render

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// OriginLimiter paces navigations per origin so a burst of renders for one
// site does not hammer it. An interval of zero disables pacing entirely.
type OriginLimiter struct {
	interval time.Duration
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewOriginLimiter creates a limiter enforcing at most one navigation per
// interval per origin.
func NewOriginLimiter(interval time.Duration) *OriginLimiter {
	return &OriginLimiter{
		interval: interval,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the origin's next navigation slot, or until ctx ends.
func (l *OriginLimiter) Wait(ctx context.Context, origin string) error {
	if l.interval <= 0 {
		return nil
	}
	l.mu.Lock()
	limiter, ok := l.limiters[origin]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(l.interval), 1)
		l.limiters[origin] = limiter
	}
	l.mu.Unlock()
	return limiter.Wait(ctx)
}
