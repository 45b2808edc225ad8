package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/corvidae-labs/chromefleet/internal/config"
	"github.com/corvidae-labs/chromefleet/internal/rpc"
	"github.com/corvidae-labs/chromefleet/internal/rpcerr"
)

// maxTrackedClients bounds the per-client accounting map to prevent memory
// exhaustion from a flood of distinct addresses, the same defense the
// teacher's IP-keyed limiter used.
const maxTrackedClients = 10000

// RateLimit returns the C9 Rate Limiting middleware per spec.md §4.9's
// fixed signature (Open Question #4). cfg.Algorithm selects between the two
// accounting strategies; an unknown algorithm string falls back to sliding
// window (config.Validate already normalizes this before construction).
func RateLimit(cfg config.RateLimitConfig) func(ctx context.Context, req *rpc.Request, client ClientInfo) *rpcerr.Error {
	if !cfg.Enabled {
		return func(context.Context, *rpc.Request, ClientInfo) *rpcerr.Error { return nil }
	}

	switch cfg.Algorithm {
	case "leaky_bucket":
		lb := newLeakyBucketLimiter(cfg.Capacity, cfg.LeakRate)
		return func(_ context.Context, _ *rpc.Request, client ClientInfo) *rpcerr.Error {
			ok, retryAfter := lb.allow(client.Addr, 1)
			if !ok {
				return rpcerr.RateLimited(retryAfter)
			}
			return nil
		}
	default:
		sw := newSlidingWindowLimiter(cfg.MaxRequests, time.Duration(cfg.WindowSeconds)*time.Second)
		return func(_ context.Context, _ *rpc.Request, client ClientInfo) *rpcerr.Error {
			ok, retryAfter := sw.allow(client.Addr)
			if !ok {
				return rpcerr.RateLimited(retryAfter)
			}
			return nil
		}
	}
}

// slidingWindowLimiter admits a client iff fewer than maxRequests of its
// allowances fall within the trailing window. Per spec.md §4.9(a).
type slidingWindowLimiter struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	hits        map[string][]time.Time
}

func newSlidingWindowLimiter(maxRequests int, window time.Duration) *slidingWindowLimiter {
	return &slidingWindowLimiter{
		maxRequests: maxRequests,
		window:      window,
		hits:        make(map[string][]time.Time),
	}
}

// allow prunes timestamps older than the window, admits if the remaining
// count is under the limit, and returns a retry-after estimate otherwise:
// the time until the oldest surviving hit ages out of the window.
func (l *slidingWindowLimiter) allow(client string) (bool, float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-l.window)

	hits := l.hits[client]
	pruned := hits[:0]
	for _, h := range hits {
		if h.After(cutoff) {
			pruned = append(pruned, h)
		}
	}

	if len(pruned) >= l.maxRequests {
		retryAfter := pruned[0].Add(l.window).Sub(now).Seconds()
		if retryAfter < 0 {
			retryAfter = 0
		}
		l.hits[client] = pruned
		return false, retryAfter
	}

	if _, exists := l.hits[client]; !exists && len(l.hits) >= maxTrackedClients {
		l.evictOldest()
	}

	pruned = append(pruned, now)
	l.hits[client] = pruned
	return true, 0
}

func (l *slidingWindowLimiter) evictOldest() {
	var oldestClient string
	var oldestTime time.Time
	first := true
	for client, hits := range l.hits {
		if len(hits) == 0 {
			continue
		}
		last := hits[len(hits)-1]
		if first || last.Before(oldestTime) {
			oldestClient, oldestTime = client, last
			first = false
		}
	}
	if oldestClient != "" {
		delete(l.hits, oldestClient)
	}
}

// leakyBucketLimiter tracks a per-client level that leaks at a constant rate.
// Per spec.md §4.9(b).
type leakyBucketLimiter struct {
	mu       sync.Mutex
	capacity float64
	leakRate float64 // units per second
	buckets  map[string]*bucket
}

type bucket struct {
	level    float64
	lastLeak time.Time
}

func newLeakyBucketLimiter(capacity, leakRate float64) *leakyBucketLimiter {
	return &leakyBucketLimiter{
		capacity: capacity,
		leakRate: leakRate,
		buckets:  make(map[string]*bucket),
	}
}

// allow leaks the client's bucket by leak_rate*elapsed since its last
// request, admits iff level+cost <= capacity, and reports the time until
// enough has leaked to admit cost when it doesn't.
func (l *leakyBucketLimiter) allow(client string, cost float64) (bool, float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, exists := l.buckets[client]
	if !exists {
		if len(l.buckets) >= maxTrackedClients {
			l.evictOldest()
		}
		b = &bucket{lastLeak: now}
		l.buckets[client] = b
	}

	elapsed := now.Sub(b.lastLeak).Seconds()
	b.level -= l.leakRate * elapsed
	if b.level < 0 {
		b.level = 0
	}
	b.lastLeak = now

	if b.level+cost > l.capacity {
		retryAfter := 0.0
		if l.leakRate > 0 {
			retryAfter = (b.level + cost - l.capacity) / l.leakRate
		}
		return false, retryAfter
	}

	b.level += cost
	return true, 0
}

func (l *leakyBucketLimiter) evictOldest() {
	var oldestClient string
	var oldestTime time.Time
	first := true
	for client, b := range l.buckets {
		if first || b.lastLeak.Before(oldestTime) {
			oldestClient, oldestTime = client, b.lastLeak
			first = false
		}
	}
	if oldestClient != "" {
		delete(l.buckets, oldestClient)
	}
}
