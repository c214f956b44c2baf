// Package breaker implements a per-provider circuit breaker. The
// Open -> HalfOpen transition is pull-based: it is recomputed against the
// injected clock on every state read instead of by a background timer.
package breaker

import (
	"sync"
	"time"
)

// State is the breaker position for one provider.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Settings holds the trip and recovery thresholds.
type Settings struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit from Closed.
	FailureThreshold int

	// RecoveryTimeout is how long an open circuit blocks before the next
	// read observes HalfOpen.
	RecoveryTimeout time.Duration

	// HalfOpenMaxCalls caps trial calls per HalfOpen episode.
	HalfOpenMaxCalls int
}

// Snapshot is a point-in-time view safe to serialize to JSON.
type Snapshot struct {
	State               string        `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	TotalSuccesses      uint64        `json:"total_successes"`
	TotalFailures       uint64        `json:"total_failures"`
	SuccessRate         float64       `json:"success_rate"`
	TotalOpenTime       time.Duration `json:"total_open_time"`
	Available           bool          `json:"is_available"`
}

// Breaker is a Closed/Open/HalfOpen state machine. Every mutation happens
// under one mutex so transitions are atomic; callers never observe
// partial state.
type Breaker struct {
	mu sync.Mutex

	settings Settings
	now      func() time.Time

	state               State
	consecutiveFailures int
	openedAt            time.Time
	halfOpenCalls       int

	totalSuccesses uint64
	totalFailures  uint64
	totalOpenTime  time.Duration
}

// New creates a closed breaker. A nil clock defaults to time.Now.
func New(settings Settings, now func() time.Time) *Breaker {
	if now == nil {
		now = time.Now
	}
	return &Breaker{settings: settings, now: now}
}

// refresh applies the lazy Open -> HalfOpen transition. Caller holds mu.
func (b *Breaker) refresh() {
	if b.state != StateOpen {
		return
	}
	t := b.now()
	if elapsed := t.Sub(b.openedAt); elapsed >= b.settings.RecoveryTimeout {
		b.totalOpenTime += elapsed
		b.state = StateHalfOpen
		b.halfOpenCalls = 0
	}
}

// State returns the current state, applying any due recovery transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	return b.state
}

// Allow reports whether a request may proceed, together with the state
// the decision was made under. In HalfOpen it claims one trial slot, so
// concurrent callers cannot exceed HalfOpenMaxCalls probes per episode.
// A caller that ends up not attempting the request must hand the slot
// back with Release.
func (b *Breaker) Allow() (bool, State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()

	switch b.state {
	case StateClosed:
		return true, b.state
	case StateHalfOpen:
		if b.halfOpenCalls < b.settings.HalfOpenMaxCalls {
			b.halfOpenCalls++
			return true, b.state
		}
		return false, b.state
	default:
		return false, b.state
	}
}

// Release returns an unused HalfOpen trial slot claimed by Allow. Only
// meaningful when the admitted request was skipped without an attempt;
// attempted requests report through RecordSuccess/RecordFailure instead.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen && b.halfOpenCalls > 0 {
		b.halfOpenCalls--
	}
}

// RecordSuccess updates totals and closes the circuit from HalfOpen.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()

	b.totalSuccesses++
	b.consecutiveFailures = 0

	if b.state == StateHalfOpen {
		b.state = StateClosed
	}
}

// RecordFailure updates totals, extends the failure streak, and applies
// the trip rule: Closed opens at the threshold, HalfOpen reopens on a
// single failure.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()

	b.totalFailures++
	b.consecutiveFailures++

	switch b.state {
	case StateHalfOpen:
		b.open()
	case StateClosed:
		if b.consecutiveFailures >= b.settings.FailureThreshold {
			b.open()
		}
	}
}

// open transitions to Open. Caller holds mu.
func (b *Breaker) open() {
	b.state = StateOpen
	b.openedAt = b.now()
}

// Reset forces the circuit closed from any state and clears the streak.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		b.totalOpenTime += b.now().Sub(b.openedAt)
	}
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.halfOpenCalls = 0
}

// Snapshot returns current statistics. TotalOpenTime includes the
// in-progress open episode so dashboards see live numbers.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()

	openTime := b.totalOpenTime
	if b.state == StateOpen {
		openTime += b.now().Sub(b.openedAt)
	}

	total := b.totalSuccesses + b.totalFailures
	rate := 0.0
	if total > 0 {
		rate = float64(b.totalSuccesses) / float64(total)
	}

	available := b.state == StateClosed ||
		(b.state == StateHalfOpen && b.halfOpenCalls < b.settings.HalfOpenMaxCalls)

	return Snapshot{
		State:               b.state.String(),
		ConsecutiveFailures: b.consecutiveFailures,
		TotalSuccesses:      b.totalSuccesses,
		TotalFailures:       b.totalFailures,
		SuccessRate:         rate,
		TotalOpenTime:       openTime,
		Available:           available,
	}
}
