package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limit is a request allowance per window
type Limit struct {
	Requests int
	Per      time.Duration
}

// PlatformLimiter is a token bucket per platform shared by every rule using the same credentials
type PlatformLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewPlatformLimiter builds one bucket per configured platform.
// Platforms without a limit are not throttled.
func NewPlatformLimiter(limits map[string]Limit) *PlatformLimiter {
	pl := &PlatformLimiter{limiters: make(map[string]*rate.Limiter)}
	for platform, limit := range limits {
		if limit.Requests <= 0 || limit.Per <= 0 {
			continue
		}
		every := limit.Per / time.Duration(limit.Requests)
		pl.limiters[platform] = rate.NewLimiter(rate.Every(every), limit.Requests)
	}
	return pl
}

// Wait blocks until platform may issue one more request or ctx is done
func (p *PlatformLimiter) Wait(ctx context.Context, platform string) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	limiter, ok := p.limiters[platform]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return limiter.Wait(ctx)
}

// Allow reports whether a request may be issued right now without waiting
func (p *PlatformLimiter) Allow(platform string) bool {
	if p == nil {
		return true
	}
	p.mu.Lock()
	limiter, ok := p.limiters[platform]
	p.mu.Unlock()
	return !ok || limiter.Allow()
}
