package relay

import (
	"context"
	"sync"
	"time"
)

const acquirePollInterval = 50 * time.Millisecond

// TokenBucket paces outbound forward operations so the provider is not
// pushed into throttling. It is advisory: Acquire blocks up to a timeout
// and reports failure instead of rejecting outright.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   int
	fillRate   float64 // tokens per second
	tokens     int
	lastRefill time.Time

	now func() time.Time // injectable clock for tests
}

// NewTokenBucket creates a full bucket.
func NewTokenBucket(capacity int, fillRate float64) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	if fillRate <= 0 {
		fillRate = float64(capacity)
	}
	return &TokenBucket{
		capacity:   capacity,
		fillRate:   fillRate,
		tokens:     capacity,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// refill adds elapsed*fillRate tokens, capped at capacity. lastRefill only
// advances when at least one whole token was added, so many sub-token
// refills cannot drift the accounting.
func (b *TokenBucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	add := int(elapsed * b.fillRate)
	if add < 1 {
		return
	}
	b.tokens += add
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// TryAcquire takes one token if available, without blocking.
func (b *TokenBucket) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// Acquire blocks until a token is available or the timeout elapses,
// polling at a short fixed interval. Returns false on timeout or context
// cancellation.
func (b *TokenBucket) Acquire(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if b.TryAcquire() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(acquirePollInterval):
		}
	}
}

// Tokens returns the current token count after a refill, for tests.
func (b *TokenBucket) Tokens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}
