package store

import (
	"context"
	"time"

	"github.com/calder-ai/relay/internal/tracker"
)

// Repository is the contract for the durable analytics layer. Core
// routing state (circuits, buckets, budget) is deliberately not
// persisted; only completed-request usage is.
type Repository interface {
	Usage() UsageRepository
	Close() error
}

type UsageRepository interface {
	// Insert stores one completed request.
	Insert(ctx context.Context, rec *tracker.UsageRecord) error
	// Recent returns the last N records, newest first.
	Recent(ctx context.Context, limit int) ([]tracker.UsageRecord, error)
	// DailyStats returns aggregated usage grouped by day.
	DailyStats(ctx context.Context, days int) ([]DailyStats, error)
}

// DailyStats is one day's rollup from the usage table.
type DailyStats struct {
	Day          time.Time `json:"day" db:"day"`
	Requests     int64     `json:"requests" db:"requests"`
	InputTokens  int64     `json:"input_tokens" db:"input_tokens"`
	OutputTokens int64     `json:"output_tokens" db:"output_tokens"`
	Cost         float64   `json:"cost" db:"cost"`
}
