package dashboard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/CatfishW/ping-agaii-org/pkg/observability"
)

const (
	DefaultRangeDays = 14
	MinRangeDays     = 1
	MaxRangeDays     = 90

	dateLayout = "2006-01-02"
)

// TrendPoint is the activity of one UTC calendar day.
type TrendPoint struct {
	Date     string `json:"date"`
	Events   int64  `json:"events"`
	Sessions int64  `json:"sessions"`
}

// ClampRangeDays bounds a requested window to [MinRangeDays, MaxRangeDays].
func ClampRangeDays(days int) int {
	if days < MinRangeDays {
		return MinRangeDays
	}
	if days > MaxRangeDays {
		return MaxRangeDays
	}
	return days
}

// TrendBuilder computes the daily event and session series from the
// primary store.
type TrendBuilder struct {
	pool   ReadPool
	logger *observability.Logger
	now    func() time.Time
}

// NewTrendBuilder creates a trend builder reading from db.
func NewTrendBuilder(db *sql.DB, logger *observability.Logger) *TrendBuilder {
	return NewTrendBuilderFromPool(StaticPool(db), logger)
}

// NewTrendBuilderFromPool creates a trend builder that resolves its pool on
// every build.
func NewTrendBuilderFromPool(pool ReadPool, logger *observability.Logger) *TrendBuilder {
	return &TrendBuilder{pool: pool, logger: logger, now: time.Now}
}

// Build returns exactly ClampRangeDays(rangeDays) points ending today (UTC),
// ascending, with days that have no rows filled with zeros. A failed query
// is logged and yields the all-zero series.
func (b *TrendBuilder) Build(ctx context.Context, rangeDays int) []TrendPoint {
	rangeDays = ClampRangeDays(rangeDays)
	today := truncateDay(b.now())
	start := today.AddDate(0, 0, -(rangeDays - 1))

	counts, err := b.query(ctx, start)
	if err != nil && !errors.Is(err, ErrNotConfigured) {
		entry := b.logger.WithError(err).WithField("range_days", rangeDays)
		if expectedFailure(err) {
			entry.Warn("trend query failed")
		} else {
			entry.Error("trend query failed")
		}
	}

	points := zeroTrend(today, rangeDays)
	for i := range points {
		p := counts[points[i].Date]
		p.Date = points[i].Date
		points[i] = p
	}
	return points
}

// zeroTrend returns rangeDays empty points ending on the UTC day of now.
func zeroTrend(now time.Time, rangeDays int) []TrendPoint {
	rangeDays = ClampRangeDays(rangeDays)
	start := truncateDay(now).AddDate(0, 0, -(rangeDays - 1))
	points := make([]TrendPoint, rangeDays)
	for i := range points {
		points[i].Date = start.AddDate(0, 0, i).Format(dateLayout)
	}
	return points
}

func (b *TrendBuilder) query(ctx context.Context, start time.Time) (map[string]TrendPoint, error) {
	counts := make(map[string]TrendPoint)
	db := b.pool.get()
	if db == nil {
		return counts, ErrNotConfigured
	}

	rows, err := db.QueryContext(ctx, `
		SELECT (timestamp AT TIME ZONE 'UTC')::date AS day,
		       COUNT(*),
		       COUNT(DISTINCT session_id)
		FROM behavior_data
		WHERE timestamp IS NOT NULL AND timestamp >= $1
		GROUP BY day`, start)
	if err != nil {
		return counts, fmt.Errorf("trend query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var day interface{}
		var p TrendPoint
		if err := rows.Scan(&day, &p.Events, &p.Sessions); err != nil {
			return counts, fmt.Errorf("trend scan: %w", err)
		}
		t := parseTimestamp(day)
		if t == nil {
			continue
		}
		counts[t.Format(dateLayout)] = p
	}
	return counts, rows.Err()
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
