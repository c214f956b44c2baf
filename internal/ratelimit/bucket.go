// Package ratelimit implements two-level token-bucket admission control:
// one shared global bucket plus a lazily-created bucket per provider key.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Clock supplies the current time. Injectable for tests.
type Clock func() time.Time

// TokenBucket wraps a rate.Limiter with an explicit clock. Tokens refill
// continuously at the configured rate and are clamped to the burst
// capacity; each admitted request consumes exactly one token.
type TokenBucket struct {
	mu    sync.Mutex
	lim   *rate.Limiter
	limit rate.Limit
	burst int
	now   Clock
}

// NewTokenBucket creates a full bucket refilling at perSecond tokens/sec
// with the given burst capacity.
func NewTokenBucket(perSecond float64, burst int, now Clock) *TokenBucket {
	if now == nil {
		now = time.Now
	}
	return &TokenBucket{
		lim:   rate.NewLimiter(rate.Limit(perSecond), burst),
		limit: rate.Limit(perSecond),
		burst: burst,
		now:   now,
	}
}

// Take attempts to consume one token. On success it returns a refund
// function that restores the token; the reservation-cancel path accounts
// for refill that happened in between, so a refund can never push the
// bucket past capacity.
func (b *TokenBucket) Take() (bool, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.now()
	r := b.lim.ReserveN(t, 1)
	if !r.OK() {
		return false, nil
	}
	if r.DelayFrom(t) > 0 {
		// Not available right now; a reservation against future refill is
		// not admission.
		r.CancelAt(t)
		return false, nil
	}

	refund := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		// Cancel at the reservation's own timestamp: a zero-delay
		// reservation acts at take time, and canceling any later is a
		// silent no-op that would leak the token.
		r.CancelAt(t)
	}
	return true, refund
}

// Tokens reports the current fill level, clamped to [0, capacity].
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokensLocked()
}

// tokensLocked reads the raw level and clamps the float drift the
// underlying limiter accumulates around its bounds.
func (b *TokenBucket) tokensLocked() float64 {
	tokens := b.lim.TokensAt(b.now())
	if tokens < 0 {
		return 0
	}
	if tokens > float64(b.burst) {
		return float64(b.burst)
	}
	return tokens
}

// RetryAfter reports how long until one token is available. Zero when a
// token is available already.
func (b *TokenBucket) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	tokens := b.tokensLocked()
	if tokens >= 1 {
		return 0
	}
	seconds := (1 - tokens) / float64(b.limit)
	return time.Duration(seconds * float64(time.Second))
}

// Reset restores the bucket to full capacity.
func (b *TokenBucket) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lim = rate.NewLimiter(b.limit, b.burst)
}
