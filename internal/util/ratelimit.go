package util

import (
	"context"
	"sync"
	"time"
)

// RateLimiter spaces calls to an upstream API evenly at perMinute calls per
// minute. A limiter built with a non-positive rate never waits.
type RateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
	now      func() time.Time
}

// NewRateLimiter creates a RateLimiter that allows perMinute operations per
// minute. The first call proceeds immediately.
func NewRateLimiter(perMinute int) *RateLimiter {
	rl := &RateLimiter{now: time.Now}
	if perMinute > 0 {
		rl.interval = time.Minute / time.Duration(perMinute)
	}
	return rl
}

// reserve claims the next slot and returns how long the caller must wait
// for it.
func (rl *RateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.interval == 0 {
		return 0
	}
	now := rl.now()
	if rl.next.Before(now) {
		rl.next = now
	}
	wait := rl.next.Sub(now)
	rl.next = rl.next.Add(rl.interval)
	return wait
}

// Wait blocks until the caller's slot arrives or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wait := rl.reserve()
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
