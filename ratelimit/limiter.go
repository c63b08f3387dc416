package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter implements token bucket rate limiting per subscription. The
// bucket capacity equals the rate, so a subscription can burst up to one
// second's worth of deliveries.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens   float64
	lastFill time.Time
	rate     float64 // tokens per second
}

// New creates a new rate limiter.
func New() *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether a delivery to the subscription may proceed now.
// A rate of 0 means unlimited and always returns true.
func (l *Limiter) Allow(subscriptionID string, rate int) bool {
	if rate <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.getOrCreateBucket(subscriptionID, float64(rate))
	b.refill()

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Wait blocks until the rate limit admits the delivery or the context is
// cancelled. A rate of 0 means unlimited and returns immediately.
func (l *Limiter) Wait(ctx context.Context, subscriptionID string, rate int) error {
	if rate <= 0 {
		return nil
	}

	for {
		if l.Allow(subscriptionID, rate) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(float64(time.Second) / float64(rate))):
			// Try again after roughly one token's worth of time.
		}
	}
}

// Reset clears the rate limit state for a subscription.
func (l *Limiter) Reset(subscriptionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, subscriptionID)
}

func (l *Limiter) getOrCreateBucket(subscriptionID string, rate float64) *bucket {
	b, ok := l.buckets[subscriptionID]
	if !ok {
		b = &bucket{
			tokens:   rate, // start full
			lastFill: time.Now(),
			rate:     rate,
		}
		l.buckets[subscriptionID] = b
	}
	return b
}

func (b *bucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastFill).Seconds()
	b.tokens += elapsed * b.rate
	if b.tokens > b.rate {
		b.tokens = b.rate
	}
	b.lastFill = now
}
