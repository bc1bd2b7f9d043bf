// Package ratelimit implements the per-(venue, endpoint-class) token
// bucket limiter that arbitrates all outbound venue calls.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

const (
	defaultCapacity = 1000
	defaultRefill   = 1000.0
	fallbackClass   = "global"
)

// BucketConfig describes one (venue, endpoint-class) bucket's parameters.
type BucketConfig struct {
	Capacity int     `json:"capacity" yaml:"capacity"`
	Refill   float64 `json:"refill" yaml:"refill"` // tokens/second
}

// Config is the full rate-limit configuration: venue -> endpoint-class -> params.
type Config map[string]map[string]BucketConfig

type bucketKey struct {
	venue    string
	endpoint string
}

// Limiter arbitrates outbound venue requests through per-bucket token
// buckets. Acquire blocks the caller until enough tokens are available; it
// never rejects outright.
type Limiter struct {
	mu      sync.RWMutex
	buckets map[bucketKey]*rate.Limiter
}

// New constructs a Limiter, optionally seeded with an initial configuration.
func New(cfg Config) *Limiter {
	l := &Limiter{buckets: make(map[bucketKey]*rate.Limiter)}
	if cfg != nil {
		l.Update(cfg)
	}
	return l
}

// Update replaces the named buckets wholesale: each bucket is reconstructed
// from its new parameters, discarding any tokens it had accumulated. Waiters
// already blocked on the old limiter instance continue to wait on it (the
// old instance is simply no longer reachable by new lookups) — an abrupt
// but simple reset, matching the operator-triggered nature of this call.
func (l *Limiter) Update(cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for venue, endpoints := range cfg {
		for endpoint, bc := range endpoints {
			cap := bc.Capacity
			if cap <= 0 {
				cap = defaultCapacity
			}
			refill := bc.Refill
			if refill <= 0 {
				refill = defaultRefill
			}
			l.buckets[bucketKey{venue, endpoint}] = rate.NewLimiter(rate.Limit(refill), cap)
		}
	}
}

// Acquire blocks until weight tokens are available in the (venue, endpoint)
// bucket and deducts them, or returns ctx.Err() if the context is cancelled
// first. Lookup falls back to (venue, "global"), then to a permissive
// default bucket (capacity 1000, refill 1000/s) created on first use.
func (l *Limiter) Acquire(ctx context.Context, venue, endpoint string, weight int) error {
	if weight <= 0 {
		weight = 1
	}
	b := l.bucketFor(venue, endpoint)
	return b.WaitN(ctx, weight)
}

func (l *Limiter) bucketFor(venue, endpoint string) *rate.Limiter {
	l.mu.RLock()
	b, ok := l.buckets[bucketKey{venue, endpoint}]
	if !ok {
		b, ok = l.buckets[bucketKey{venue, fallbackClass}]
	}
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Re-check under write lock: another goroutine may have created the
	// fallback bucket while we waited.
	if b, ok := l.buckets[bucketKey{venue, fallbackClass}]; ok {
		return b
	}
	b = rate.NewLimiter(rate.Limit(defaultRefill), defaultCapacity)
	l.buckets[bucketKey{venue, fallbackClass}] = b
	return b
}
