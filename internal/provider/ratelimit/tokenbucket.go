package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a non-blocking token bucket.
// - perMinute: tokens added per minute
// - capacity: maximum tokens the bucket can hold (burst)
//
// Refill is lazy: every TryAcquire computes the tokens earned since the
// last refill and caps at capacity. When no token is available the call
// is rejected immediately; callers are expected to fail over, not wait.
type Bucket struct {
	perMinute float64
	capacity  float64

	mu     sync.Mutex
	tokens float64
	last   time.Time

	now func() time.Time
}

func NewBucket(perMinute float64, burst int) *Bucket {
	if perMinute <= 0 {
		perMinute = 0.0000001
	}
	if burst <= 0 {
		burst = 1
	}
	return &Bucket{
		perMinute: perMinute,
		capacity:  float64(burst),
		tokens:    float64(burst), // start full to allow an initial burst
		last:      time.Now(),
		now:       time.Now,
	}
}

// TryAcquire consumes one token if available. It never blocks.
func (b *Bucket) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokens >= 1 {
		b.tokens -= 1
		return true
	}
	return false
}

// Snapshot reports the current token count and last refill time for
// the health endpoint. It also applies any pending lazy refill.
func (b *Bucket) Snapshot() (tokens float64, refilledAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens, b.last
}

func (b *Bucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.last).Minutes()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.perMinute
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now
}
