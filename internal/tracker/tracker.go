// Package tracker maintains the in-memory usage ledger and its running
// aggregates, and drives budget checks after every recorded request.
package tracker

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/calder-ai/relay/internal/budget"
)

// UsageRecord is one completed request in the append-only ledger.
type UsageRecord struct {
	ID           string    `json:"id" db:"id"`
	Route        string    `json:"route" db:"route"`
	Provider     string    `json:"provider" db:"provider"`
	Model        string    `json:"model" db:"model"`
	InputTokens  int       `json:"input_tokens" db:"input_tokens"`
	OutputTokens int       `json:"output_tokens" db:"output_tokens"`
	Cost         float64   `json:"cost" db:"cost"`
	LatencyMS    int64     `json:"latency_ms" db:"latency_ms"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`
}

// AggregateStats is the running rollup for one route/provider/model/hour.
// Monotonically growing until the ledger is trimmed explicitly.
type AggregateStats struct {
	Count        int64     `json:"count"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	Cost         float64   `json:"cost"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
}

// Standing is the current budget position for the status surface.
type Standing struct {
	Spent     float64        `json:"spent"`
	Limit     float64        `json:"limit"`
	Percent   float64        `json:"percent"`
	Triggered []budget.Level `json:"triggered_thresholds,omitempty"`
}

// Sink receives every record for durable storage. Implementations must
// not block the caller.
type Sink interface {
	Record(rec UsageRecord)
}

const (
	defaultLedgerCap = 1000
	defaultAlertCap  = 100
)

// Tracker records completed requests, keeps aggregates per route,
// provider, model and hour bucket, and appends budget alerts to a
// bounded log. Safe for concurrent use.
type Tracker struct {
	mu sync.Mutex

	ledgerCap int
	ledger    []UsageRecord

	byRoute    map[string]*AggregateStats
	byProvider map[string]*AggregateStats
	byModel    map[string]*AggregateStats
	byHour     map[string]*AggregateStats

	totalCost float64

	budget   *budget.Manager
	alerts   []budget.Alert
	alertCap int

	sink   Sink
	now    func() time.Time
	logger *zap.Logger
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithLedgerCap bounds the ledger; oldest entries are dropped first.
func WithLedgerCap(n int) Option {
	return func(t *Tracker) { t.ledgerCap = n }
}

// WithSink forwards every record to a durable sink.
func WithSink(s Sink) Option {
	return func(t *Tracker) { t.sink = s }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates a tracker. The budget manager may be nil to disable spend
// checks.
func New(bm *budget.Manager, logger *zap.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		ledgerCap:  defaultLedgerCap,
		byRoute:    make(map[string]*AggregateStats),
		byProvider: make(map[string]*AggregateStats),
		byModel:    make(map[string]*AggregateStats),
		byHour:     make(map[string]*AggregateStats),
		budget:     bm,
		alertCap:   defaultAlertCap,
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record appends one completed request, updates aggregates, and re-runs
// the budget check against the new cumulative cost. Never blocks on the
// sink.
func (t *Tracker) Record(rec UsageRecord) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = t.now().UTC()
	}
	if rec.Route == "" {
		rec.Route = "default"
	}

	t.mu.Lock()
	t.ledger = append(t.ledger, rec)
	if len(t.ledger) > t.ledgerCap {
		t.ledger = t.ledger[len(t.ledger)-t.ledgerCap:]
	}

	t.apply(t.byRoute, rec.Route, rec)
	t.apply(t.byProvider, rec.Provider, rec)
	t.apply(t.byModel, rec.Model, rec)
	t.apply(t.byHour, rec.Timestamp.UTC().Format("2006-01-02T15"), rec)

	t.totalCost += rec.Cost
	total := t.totalCost

	var alert *budget.Alert
	if t.budget != nil {
		alert = t.budget.Check(total)
		if alert != nil {
			t.alerts = append(t.alerts, *alert)
			if len(t.alerts) > t.alertCap {
				t.alerts = t.alerts[len(t.alerts)-t.alertCap:]
			}
		}
	}
	sink := t.sink
	t.mu.Unlock()

	if alert != nil {
		t.logger.Warn("budget threshold crossed",
			zap.String("level", string(alert.Level)),
			zap.Float64("spent", alert.Spent),
			zap.Float64("limit", alert.Limit),
		)
	}
	if sink != nil {
		sink.Record(rec)
	}
}

// apply folds rec into the stats map under key. Caller holds mu.
func (t *Tracker) apply(m map[string]*AggregateStats, key string, rec UsageRecord) {
	agg, ok := m[key]
	if !ok {
		agg = &AggregateStats{FirstSeen: rec.Timestamp}
		m[key] = agg
	}
	agg.Count++
	agg.InputTokens += int64(rec.InputTokens)
	agg.OutputTokens += int64(rec.OutputTokens)
	agg.Cost += rec.Cost
	agg.LastSeen = rec.Timestamp
}

// TotalCost returns cumulative spend across all recorded requests.
func (t *Tracker) TotalCost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalCost
}

// Recent returns up to n most recent ledger entries, oldest first.
func (t *Tracker) Recent(n int) []UsageRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n <= 0 || n > len(t.ledger) {
		n = len(t.ledger)
	}
	out := make([]UsageRecord, n)
	copy(out, t.ledger[len(t.ledger)-n:])
	return out
}

// ByRoute returns a copy of the per-route aggregates.
func (t *Tracker) ByRoute() map[string]AggregateStats { return t.copyOf(t.byRoute) }

// ByProvider returns a copy of the per-provider aggregates.
func (t *Tracker) ByProvider() map[string]AggregateStats { return t.copyOf(t.byProvider) }

// ByModel returns a copy of the per-model aggregates.
func (t *Tracker) ByModel() map[string]AggregateStats { return t.copyOf(t.byModel) }

// ByHour returns a copy of the hour-bucket aggregates, keyed
// "2006-01-02T15" in UTC.
func (t *Tracker) ByHour() map[string]AggregateStats { return t.copyOf(t.byHour) }

func (t *Tracker) copyOf(m map[string]*AggregateStats) map[string]AggregateStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]AggregateStats, len(m))
	for k, v := range m {
		out[k] = *v
	}
	return out
}

// Alerts returns a copy of the bounded alert log, oldest first.
func (t *Tracker) Alerts() []budget.Alert {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]budget.Alert, len(t.alerts))
	copy(out, t.alerts)
	return out
}

// Standing reports current budget position.
func (t *Tracker) Standing() Standing {
	t.mu.Lock()
	spent := t.totalCost
	t.mu.Unlock()

	s := Standing{Spent: spent}
	if t.budget != nil {
		s.Limit = t.budget.Limit()
		if s.Limit > 0 {
			s.Percent = spent / s.Limit * 100
		}
		s.Triggered = t.budget.Triggered()
	}
	return s
}

// Trim drops the ledger and aggregates but keeps cumulative cost so the
// budget position survives. Used by daily maintenance alongside
// budget.ResetDaily.
func (t *Tracker) Trim() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ledger = nil
	t.byRoute = make(map[string]*AggregateStats)
	t.byProvider = make(map[string]*AggregateStats)
	t.byModel = make(map[string]*AggregateStats)
	t.byHour = make(map[string]*AggregateStats)
}

// ResetDaily starts a new accounting period: spend returns to zero and
// budget thresholds re-arm.
func (t *Tracker) ResetDaily() {
	t.mu.Lock()
	t.totalCost = 0
	t.mu.Unlock()

	if t.budget != nil {
		t.budget.ResetDaily()
	}
}
