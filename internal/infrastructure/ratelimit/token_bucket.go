// Package ratelimit provides the in-memory rate limiting primitives of the gate:
// burst-capable token buckets, keyed bucket pools, the rule-driven Limiter and a
// sliding-window counter.
package ratelimit

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/turtacn/accessgate/internal/domain/models"
	"github.com/turtacn/accessgate/pkg/constants"
)

// TokenBucket implements the token bucket algorithm with a burst allowance.
// When the balance is short, the deficit may be borrowed from the burst allowance
// until it is exhausted; borrowed tokens are forgiven after a minute of inactivity.
type TokenBucket struct {
	mu              sync.Mutex
	capacity        float64   // Maximum number of tokens
	tokens          float64   // Current number of tokens
	rate            float64   // Tokens added per second
	lastRefill      time.Time // Last time tokens were refilled
	burstCapacity   float64   // Maximum tokens that may be borrowed
	burstTokensUsed float64   // Tokens currently borrowed
	now             func() time.Time
}

// NewTokenBucket creates a full token bucket sized for requestsPerMinute.
//
// Parameters:
//   - requestsPerMinute: Capacity of the bucket; it refills at requestsPerMinute/60 per second
//   - burstCapacity: Number of tokens that may be borrowed beyond the balance
//
// Returns:
//   - *TokenBucket: Initialized token bucket
func NewTokenBucket(requestsPerMinute, burstCapacity float64) *TokenBucket {
	return newTokenBucket(requestsPerMinute, burstCapacity, time.Now)
}

func newTokenBucket(requestsPerMinute, burstCapacity float64, now func() time.Time) *TokenBucket {
	if requestsPerMinute <= 0 {
		requestsPerMinute = constants.DefaultUserLimitPerMinute
	}
	if burstCapacity < 0 {
		burstCapacity = 0
	}
	if now == nil {
		now = time.Now
	}

	return &TokenBucket{
		capacity:      requestsPerMinute,
		tokens:        requestsPerMinute, // Start with full bucket
		rate:          requestsPerMinute / 60.0,
		lastRefill:    now(),
		burstCapacity: burstCapacity,
		now:           now,
	}
}

// Consume attempts to take n tokens from the bucket.
//
// Parameters:
//   - n: Number of tokens to consume
//
// Returns:
//   - bool: true if request is allowed, false otherwise
func (tb *TokenBucket) Consume(n float64) bool {
	ok, _ := tb.ConsumeWithRetry(n)
	return ok
}

// ConsumeWithRetry attempts to take n tokens and, on failure, reports how many
// whole seconds of refill the caller should wait (at least 1).
// A failed attempt leaves the bucket unchanged apart from the refill.
func (tb *TokenBucket) ConsumeWithRetry(n float64) (bool, int) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if n <= 0 {
		return true, 0
	}

	if tb.tokens >= n {
		tb.tokens -= n
		return true, 0
	}

	deficit := n - tb.tokens
	if tb.burstTokensUsed+deficit <= tb.burstCapacity {
		tb.burstTokensUsed += deficit
		tb.tokens = 0
		return true, 0
	}

	// The epsilon absorbs float error so an exact multiple of the refill period is not rounded up.
	retryAfter := int(math.Ceil(deficit/tb.rate - 1e-9))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}

// refill adds tokens to the bucket based on elapsed time since last refill.
// Must be called with lock held.
func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill)
	if elapsed <= 0 {
		return
	}

	tb.tokens += elapsed.Seconds() * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}

	if elapsed > constants.BurstResetInterval {
		tb.burstTokensUsed = 0
	}

	tb.lastRefill = now
}

// Available returns the current number of tokens available.
func (tb *TokenBucket) Available() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	return tb.tokens
}

// Capacity returns the maximum capacity of the bucket.
func (tb *TokenBucket) Capacity() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.capacity
}

// idleFor reports how long the bucket has gone without a refill.
func (tb *TokenBucket) idleFor(now time.Time) time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return now.Sub(tb.lastRefill)
}

// Status returns a snapshot of the bucket.
//
// Returns:
//   - models.BucketStatus: Current balance, capacity and burst usage
func (tb *TokenBucket) Status() models.BucketStatus {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	return models.BucketStatus{
		Tokens:          tb.tokens,
		Capacity:        tb.capacity,
		RefillRate:      tb.rate,
		BurstCapacity:   tb.burstCapacity,
		BurstTokensUsed: tb.burstTokensUsed,
	}
}

// TokenBucketPool manages token buckets keyed by identity.
// Buckets are created lazily; concurrent first use of a key yields a single bucket.
type TokenBucketPool struct {
	mu      sync.RWMutex
	buckets map[string]*tokenBucketEntry
}

// tokenBucketEntry wraps a token bucket with the number of in-flight consumers.
type tokenBucketEntry struct {
	bucket   *TokenBucket
	inflight atomic.Int32
}

// NewTokenBucketPool creates a new token bucket pool.
func NewTokenBucketPool() *TokenBucketPool {
	return &TokenBucketPool{
		buckets: make(map[string]*tokenBucketEntry),
	}
}

// acquire returns the entry for key, creating it with create when absent,
// and marks it in use. The caller must release it.
func (p *TokenBucketPool) acquire(key string, create func() *TokenBucket) *tokenBucketEntry {
	// Try read lock first for performance
	p.mu.RLock()
	if entry, exists := p.buckets[key]; exists {
		entry.inflight.Add(1)
		p.mu.RUnlock()
		return entry
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	entry, exists := p.buckets[key]
	if !exists {
		entry = &tokenBucketEntry{bucket: create()}
		p.buckets[key] = entry
	}
	entry.inflight.Add(1)
	return entry
}

// Consume takes n tokens from the bucket for key, creating it with create if needed.
//
// Returns:
//   - bool: true if the tokens were granted
//   - int: seconds to wait before retrying when denied
//   - float64: tokens left in the bucket after the attempt
func (p *TokenBucketPool) Consume(key string, create func() *TokenBucket, n float64) (bool, int, float64) {
	entry := p.acquire(key, create)
	defer entry.inflight.Add(-1)

	ok, retryAfter := entry.bucket.ConsumeWithRetry(n)
	return ok, retryAfter, entry.bucket.Available()
}

// Get retrieves an existing bucket.
//
// Returns:
//   - *TokenBucket: The token bucket if found, nil otherwise
func (p *TokenBucketPool) Get(key string) *TokenBucket {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if entry, exists := p.buckets[key]; exists {
		return entry.bucket
	}
	return nil
}

// Range calls fn for each bucket until fn returns false.
func (p *TokenBucketPool) Range(fn func(key string, bucket *TokenBucket) bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for key, entry := range p.buckets {
		if !fn(key, entry.bucket) {
			return
		}
	}
}

// Cleanup removes buckets that have been idle longer than maxIdle.
// Buckets with a consume in flight are skipped.
//
// Returns:
//   - int: Number of buckets removed
func (p *TokenBucketPool) Cleanup(now time.Time, maxIdle time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for key, entry := range p.buckets {
		if entry.inflight.Load() > 0 {
			continue
		}
		if entry.bucket.idleFor(now) > maxIdle {
			delete(p.buckets, key)
			removed++
		}
	}

	return removed
}

// Size returns the number of buckets in the pool.
func (p *TokenBucketPool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.buckets)
}

//Personal.AI order the ending
