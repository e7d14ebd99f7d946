package deezer

import (
	"context"
	"sync"
	"time"
)

// rateLimiter spaces requests at a fixed interval.
type rateLimiter struct {
	mu          sync.Mutex
	interval    time.Duration
	lastRequest time.Time
}

func newRateLimiter(requestsPerSecond int) *rateLimiter {
	if requestsPerSecond <= 0 {
		return &rateLimiter{}
	}
	return &rateLimiter{
		interval: time.Second / time.Duration(requestsPerSecond),
	}
}

// Wait blocks until a request can be made
func (r *rateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	nextAllowed := r.lastRequest.Add(r.interval)
	if wait := time.Until(nextAllowed); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.lastRequest = time.Now()
	return nil
}
