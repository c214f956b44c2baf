package sqlite

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/calder-ai/relay/internal/store"
	"github.com/calder-ai/relay/internal/tracker"
)

type repository struct {
	db *sqlx.DB
}

func (r *repository) Usage() store.UsageRepository {
	return &usageRepo{db: r.db}
}

func (r *repository) Close() error {
	return r.db.Close()
}

type usageRepo struct {
	db *sqlx.DB
}

func (u *usageRepo) Insert(ctx context.Context, rec *tracker.UsageRecord) error {
	_, err := u.db.NamedExecContext(ctx, `
		INSERT INTO usage_records
			(id, route, provider, model, input_tokens, output_tokens, cost, latency_ms, timestamp)
		VALUES
			(:id, :route, :provider, :model, :input_tokens, :output_tokens, :cost, :latency_ms, :timestamp)`,
		rec)
	return err
}

func (u *usageRepo) Recent(ctx context.Context, limit int) ([]tracker.UsageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []tracker.UsageRecord
	err := u.db.SelectContext(ctx, &recs, `
		SELECT id, route, provider, model, input_tokens, output_tokens, cost, latency_ms, timestamp
		FROM usage_records
		ORDER BY timestamp DESC
		LIMIT ?`, limit)
	return recs, err
}

func (u *usageRepo) DailyStats(ctx context.Context, days int) ([]store.DailyStats, error) {
	if days <= 0 {
		days = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	rows, err := u.db.QueryxContext(ctx, `
		SELECT
			date(timestamp) AS day,
			COUNT(*) AS requests,
			SUM(input_tokens) AS input_tokens,
			SUM(output_tokens) AS output_tokens,
			SUM(cost) AS cost
		FROM usage_records
		WHERE timestamp >= ?
		GROUP BY date(timestamp)
		ORDER BY day`, since)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var stats []store.DailyStats
	for rows.Next() {
		var (
			day string
			s   store.DailyStats
		)
		if err := rows.Scan(&day, &s.Requests, &s.InputTokens, &s.OutputTokens, &s.Cost); err != nil {
			return nil, err
		}
		if parsed, err := time.Parse("2006-01-02", day); err == nil {
			s.Day = parsed
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
