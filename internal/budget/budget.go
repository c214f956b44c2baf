// Package budget tracks cumulative spend against a daily limit and emits
// threshold alerts. Crossing a budget never blocks requests; it degrades
// routing policy to free-tagged providers instead.
package budget

import (
	"fmt"
	"sync"
	"time"
)

// Level indicates the severity of a budget alert.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
	LevelExceeded Level = "exceeded"
)

// freeOnlyFraction is the spend fraction at which routing degrades to
// free-tagged providers.
const freeOnlyFraction = 0.90

// threshold ladder, ascending. Each rung fires at most once per
// accounting period.
var ladder = []struct {
	fraction float64
	level    Level
}{
	{0.50, LevelInfo},
	{0.75, LevelWarning},
	{0.90, LevelCritical},
	{1.00, LevelExceeded},
}

// Alert is emitted once per threshold crossing per accounting period.
type Alert struct {
	Level     Level     `json:"level"`
	Spent     float64   `json:"spent"`
	Limit     float64   `json:"limit"`
	Percent   float64   `json:"percent"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Manager evaluates cumulative spend against the threshold ladder.
type Manager struct {
	mu         sync.Mutex
	dailyLimit float64
	triggered  map[Level]bool
	now        func() time.Time
}

// NewManager creates a manager for the given daily limit in USD. A limit
// of zero disables all checks. A nil clock defaults to time.Now.
func NewManager(dailyLimit float64, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{
		dailyLimit: dailyLimit,
		triggered:  make(map[Level]bool),
		now:        now,
	}
}

// Check evaluates totalSpent against the ladder and returns the first
// newly-crossed threshold's alert, or nil when nothing new fired.
func (m *Manager) Check(totalSpent float64) *Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dailyLimit <= 0 {
		return nil
	}

	pct := totalSpent / m.dailyLimit
	for _, rung := range ladder {
		if pct < rung.fraction || m.triggered[rung.level] {
			continue
		}
		m.triggered[rung.level] = true
		return &Alert{
			Level:     rung.level,
			Spent:     totalSpent,
			Limit:     m.dailyLimit,
			Percent:   pct * 100,
			Timestamp: m.now(),
			Message: fmt.Sprintf("daily budget at %.1f%% ($%.2f / $%.2f)",
				pct*100, totalSpent, m.dailyLimit),
		}
	}
	return nil
}

// ShouldUseFreeOnly reports whether spend has reached 90% of the daily
// limit, boundary inclusive. Pure predicate; no side effects.
func (m *Manager) ShouldUseFreeOnly(totalSpent float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dailyLimit <= 0 {
		return false
	}
	return totalSpent/m.dailyLimit >= freeOnlyFraction
}

// ResetDaily clears the triggered set for a new accounting period.
func (m *Manager) ResetDaily() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggered = make(map[Level]bool)
}

// Limit returns the configured daily limit.
func (m *Manager) Limit() float64 {
	return m.dailyLimit
}

// Triggered returns the levels that already fired this period, in ladder
// order.
func (m *Manager) Triggered() []Level {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Level
	for _, rung := range ladder {
		if m.triggered[rung.level] {
			out = append(out, rung.level)
		}
	}
	return out
}
