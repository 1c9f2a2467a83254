package ratelimit

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket_ColdBucketBurst(t *testing.T) {
	clock := newFakeClock()
	bucket := newTokenBucket(10, 5, clock.Now)

	for i := 0; i < 15; i++ {
		require.True(t, bucket.Consume(1), "request %d should be admitted", i+1)
	}
	assert.False(t, bucket.Consume(1), "16th request should be denied")

	// A little over one token's worth of refill time (6s at 10/min).
	clock.Advance(7 * time.Second)
	assert.True(t, bucket.Consume(1))
	assert.False(t, bucket.Consume(1))
}

func TestTokenBucket_RetryAfter(t *testing.T) {
	clock := newFakeClock()
	bucket := newTokenBucket(10, 0, clock.Now)

	for i := 0; i < 10; i++ {
		require.True(t, bucket.Consume(1))
	}

	ok, retryAfter := bucket.ConsumeWithRetry(1)
	assert.False(t, ok)
	assert.Equal(t, 6, retryAfter)

	clock.Advance(5 * time.Second)
	ok, retryAfter = bucket.ConsumeWithRetry(1)
	assert.False(t, ok)
	assert.Equal(t, 1, retryAfter)
}

func TestTokenBucket_FailedConsumeLeavesStateUnchanged(t *testing.T) {
	clock := newFakeClock()
	bucket := newTokenBucket(2, 1, clock.Now)

	require.True(t, bucket.Consume(2))
	before := bucket.Status()

	assert.False(t, bucket.Consume(2))
	after := bucket.Status()
	assert.Equal(t, before, after)
}

func TestTokenBucket_BurstResetAfterIdleMinute(t *testing.T) {
	clock := newFakeClock()
	bucket := newTokenBucket(60, 5, clock.Now)

	for i := 0; i < 65; i++ {
		require.True(t, bucket.Consume(1))
	}
	assert.InDelta(t, 5.0, bucket.Status().BurstTokensUsed, 1e-9)

	clock.Advance(30 * time.Second)
	assert.InDelta(t, 5.0, bucket.Status().BurstTokensUsed, 1e-9, "burst usage is kept within a minute")

	clock.Advance(61 * time.Second)
	status := bucket.Status()
	assert.Zero(t, status.BurstTokensUsed)
	assert.Equal(t, 60.0, status.Tokens)
}

func TestTokenBucket_Invariants(t *testing.T) {
	clock := newFakeClock()
	bucket := newTokenBucket(20, 7, clock.Now)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 2000; i++ {
		switch rng.Intn(3) {
		case 0:
			clock.Advance(time.Duration(rng.Intn(5000)) * time.Millisecond)
		default:
			bucket.Consume(float64(rng.Intn(4)))
		}
		status := bucket.Status()
		require.GreaterOrEqual(t, status.Tokens, 0.0)
		require.LessOrEqual(t, status.Tokens, status.Capacity)
		require.GreaterOrEqual(t, status.BurstTokensUsed, 0.0)
		require.LessOrEqual(t, status.BurstTokensUsed, status.BurstCapacity)
	}
}

func TestTokenBucket_ConcurrentConsumeIsSerializable(t *testing.T) {
	clock := newFakeClock()
	bucket := newTokenBucket(50, 10, clock.Now)

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if bucket.Consume(1) {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(60), granted.Load())
}

func TestTokenBucketPool_SingleBucketPerKey(t *testing.T) {
	pool := NewTokenBucketPool()
	clock := newFakeClock()

	var created atomic.Int32
	create := func() *TokenBucket {
		created.Add(1)
		return newTokenBucket(1000, 0, clock.Now)
	}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Consume("shared", create, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, 1, pool.Size())
	assert.InDelta(t, 900.0, pool.Get("shared").Available(), 1e-9)
}

func TestTokenBucketPool_Cleanup(t *testing.T) {
	pool := NewTokenBucketPool()
	clock := newFakeClock()
	create := func() *TokenBucket { return newTokenBucket(10, 0, clock.Now) }

	pool.Consume("idle", create, 1)
	clock.Advance(20 * time.Minute)
	pool.Consume("active", create, 1)
	clock.Advance(15 * time.Minute)

	removed := pool.Cleanup(clock.Now(), 30*time.Minute)
	assert.Equal(t, 1, removed)
	assert.Nil(t, pool.Get("idle"))
	assert.NotNil(t, pool.Get("active"))
}

func TestTokenBucketPool_CleanupSkipsInFlight(t *testing.T) {
	pool := NewTokenBucketPool()
	clock := newFakeClock()

	entry := pool.acquire("busy", func() *TokenBucket { return newTokenBucket(10, 0, clock.Now) })
	clock.Advance(time.Hour)

	assert.Equal(t, 0, pool.Cleanup(clock.Now(), time.Minute))
	entry.inflight.Add(-1)
	assert.Equal(t, 1, pool.Cleanup(clock.Now(), time.Minute))
}
