package lifecycle

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Default reconnect policy: 1s doubling to 30s with ±20% jitter, retried
// for as long as the owner keeps running.
const (
	DefaultBackoffBase   = 1 * time.Second
	DefaultBackoffMax    = 30 * time.Second
	DefaultBackoffJitter = 0.2
)

// Backoff computes exponential retry delays. The nominal delay for the n-th
// consecutive failure is min(base*2^(n-1), max); jitter scales it by a random
// factor in [1-jitter, 1+jitter]. Jittered delays are clamped to
// [previous delay, max] so a run of failures never waits less than before.
type Backoff struct {
	base   time.Duration
	max    time.Duration
	jitter float64

	mu      sync.Mutex
	attempt int
	last    time.Duration
}

// NewBackoff creates a backoff. A jitter of 0 makes delays deterministic.
func NewBackoff(base, max time.Duration, jitter float64) *Backoff {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if max < base {
		max = base
	}
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	return &Backoff{
		base:   base,
		max:    max,
		jitter: jitter,
	}
}

// Nominal returns the un-jittered delay for the given 1-based attempt.
func (b *Backoff) Nominal(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.base
	for i := 1; i < attempt; i++ {
		if d >= b.max/2 {
			return b.max
		}
		d *= 2
	}
	if d > b.max {
		return b.max
	}
	return d
}

// Next records a failure and returns the delay before the next attempt.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempt++
	d := b.Nominal(b.attempt)
	if b.jitter > 0 {
		d = time.Duration(float64(d) * (1 + b.jitter*(rand.Float64()*2-1)))
		d = min(max(d, b.last), b.max)
	}
	b.last = d
	return d
}

// Wait sleeps for Next() or until ctx is done.
func (b *Backoff) Wait(ctx context.Context) error {
	t := time.NewTimer(b.Next())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Reset clears the failure count after a success.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.attempt = 0
	b.last = 0
	b.mu.Unlock()
}

// Attempts returns the number of consecutive failures recorded.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}
