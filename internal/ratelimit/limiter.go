package ratelimit

import (
	"sync"
	"time"
)

// LimitedByGlobal marks a denial caused by the shared global bucket.
// Per-key denials carry the key itself.
const LimitedByGlobal = "global"

// Decision is the structured allow/deny result of one admission check.
// Checks never fail; diagnostics are always populated.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	LimitedBy  string        `json:"limited_by,omitempty"`
	Remaining  float64       `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after"`
}

type keyLimits struct {
	perSecond float64
	burst     int
}

// Limiter composes one global bucket with per-key buckets created on
// first use. A per-key denial refunds the already-consumed global token
// so shared capacity is never silently drained.
type Limiter struct {
	global *TokenBucket

	mu      sync.RWMutex
	buckets map[string]*TokenBucket
	limits  map[string]keyLimits

	defaults keyLimits
	now      Clock
}

// NewLimiter creates a limiter whose global bucket refills at perSecond
// with the given burst. Keys not configured explicitly fall back to the
// global parameters.
func NewLimiter(perSecond float64, burst int, now Clock) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		global:   NewTokenBucket(perSecond, burst, now),
		buckets:  make(map[string]*TokenBucket),
		limits:   make(map[string]keyLimits),
		defaults: keyLimits{perSecond: perSecond, burst: burst},
		now:      now,
	}
}

// Configure sets the bucket parameters used when key's bucket is created.
// Must be called before the first Check for the key to take effect.
func (l *Limiter) Configure(key string, perSecond float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits[key] = keyLimits{perSecond: perSecond, burst: burst}
}

// bucket returns the bucket for key, creating it on first use.
func (l *Limiter) bucket(key string) *TokenBucket {
	l.mu.RLock()
	b, exists := l.buckets[key]
	l.mu.RUnlock()

	if exists {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if b, exists = l.buckets[key]; exists {
		return b
	}

	lim, ok := l.limits[key]
	if !ok {
		lim = l.defaults
	}
	b = NewTokenBucket(lim.perSecond, lim.burst, l.now)
	l.buckets[key] = b

	return b
}

// Check consumes from the global bucket first; a global denial has no
// per-key side effect. When the global bucket grants but the per-key
// bucket denies, the global token is refunded.
func (l *Limiter) Check(key string) Decision {
	ok, refund := l.global.Take()
	if !ok {
		return Decision{
			LimitedBy:  LimitedByGlobal,
			Remaining:  l.global.Tokens(),
			RetryAfter: l.global.RetryAfter(),
		}
	}

	kb := l.bucket(key)
	kok, _ := kb.Take()
	if !kok {
		refund()
		return Decision{
			LimitedBy:  key,
			Remaining:  kb.Tokens(),
			RetryAfter: kb.RetryAfter(),
		}
	}

	return Decision{Allowed: true, Remaining: kb.Tokens()}
}

// Reset clears the given per-key buckets, or all of them plus the global
// bucket when no keys are given. Cleared buckets recreate at full
// capacity on next use.
func (l *Limiter) Reset(keys ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(keys) == 0 {
		l.buckets = make(map[string]*TokenBucket)
		l.global.Reset()
		return
	}
	for _, k := range keys {
		delete(l.buckets, k)
	}
}

// Occupancy reports current token levels for the global bucket and every
// per-key bucket created so far.
func (l *Limiter) Occupancy() map[string]float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	occ := make(map[string]float64, len(l.buckets)+1)
	occ[LimitedByGlobal] = l.global.Tokens()
	for k, b := range l.buckets {
		occ[k] = b.Tokens()
	}
	return occ
}
