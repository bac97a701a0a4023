package ratelimit

import (
	"testing"
	"time"
)

func fixedClock(t *time.Time) func() time.Time {
	return func() time.Time { return *t }
}

func TestTryAcquire_BurstThenReject(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	b := NewBucket(60, 3)
	b.last = now
	b.now = fixedClock(&now)

	for i := 0; i < 3; i++ {
		if !b.TryAcquire() {
			t.Fatalf("acquire %d rejected, want allowed", i)
		}
	}
	if b.TryAcquire() {
		t.Fatalf("acquire beyond burst allowed, want rejected")
	}
}

func TestTryAcquire_LazyRefill(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	b := NewBucket(60, 1) // one token per second
	b.last = now
	b.now = fixedClock(&now)

	if !b.TryAcquire() {
		t.Fatalf("initial acquire rejected")
	}
	if b.TryAcquire() {
		t.Fatalf("empty bucket allowed")
	}

	now = now.Add(500 * time.Millisecond)
	if b.TryAcquire() {
		t.Fatalf("half a token allowed")
	}
	now = now.Add(600 * time.Millisecond)
	if !b.TryAcquire() {
		t.Fatalf("refilled token rejected")
	}
}

func TestRefill_CapsAtCapacity(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	b := NewBucket(600, 2)
	b.last = now
	b.now = fixedClock(&now)

	now = now.Add(time.Hour)
	tokens, _ := b.Snapshot()
	if tokens != 2 {
		t.Fatalf("tokens=%v, want capped at 2", tokens)
	}
}

func TestTryAcquire_NeverMoreThanBurstPerWindow(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	b := NewBucket(6, 2) // one token per 10s
	b.last = now
	b.now = fixedClock(&now)

	granted := 0
	// walk a 10s window in 1s steps; at most capacity+1 grants can land
	// in it (the burst plus the single refilled token)
	for i := 0; i < 10; i++ {
		if b.TryAcquire() {
			granted++
		}
		now = now.Add(time.Second)
	}
	if granted > 3 {
		t.Fatalf("granted %d in one refill window, want <= 3", granted)
	}
}
