package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"halo-tracker/internal/domain"
)

// TrendPoint is one match with its trailing-window averages.
type TrendPoint struct {
	MatchID       string
	StartTime     time.Time
	KDATrend      *float64
	AccuracyTrend *float64
}

// Streak is a run of consecutive wins or losses.
type Streak struct {
	Outcome   domain.Outcome
	Length    int
	StartedAt time.Time
	EndedAt   time.Time
}

// PeakMatch is a match ranked by percentile of its KDA.
type PeakMatch struct {
	MatchID     string
	StartTime   time.Time
	KDA         float64
	PercentRank float64
}

// PeriodStats aggregates one comparison window.
type PeriodStats struct {
	Matches     int
	Wins        int
	AvgKDA      *float64
	AvgAccuracy *float64
}

// PeriodComparison holds the current window against the immediately
// preceding window of equal length.
type PeriodComparison struct {
	Current  PeriodStats
	Previous PeriodStats
}

// TrendSeries computes N-match trailing averages over the bound partitions,
// ordered by start time.
func (e *Engine) TrendSeries(ctx context.Context, files []string, window int) ([]TrendPoint, error) {
	if window < 1 {
		window = 1
	}
	q := NewQuery(fmt.Sprintf(`
		SELECT match_id, start_time,
			AVG(kda) OVER w AS kda_trend,
			AVG(accuracy) OVER w AS accuracy_trend
		FROM {table}
		WINDOW w AS (ORDER BY start_time ROWS BETWEEN %d PRECEDING AND CURRENT ROW)
		ORDER BY start_time`, window-1),
		BindPartitionFiles("table", files))

	rows, err := e.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []TrendPoint
	for rows.Next() {
		var p TrendPoint
		var kda, acc sql.NullFloat64
		if err := rows.Scan(&p.MatchID, &p.StartTime, &kda, &acc); err != nil {
			return nil, err
		}
		if kda.Valid {
			p.KDATrend = &kda.Float64
		}
		if acc.Valid {
			p.AccuracyTrend = &acc.Float64
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Streaks detects win and loss runs with gap-based run-length grouping.
func (e *Engine) Streaks(ctx context.Context, files []string) ([]Streak, error) {
	q := NewQuery(`
		WITH runs AS (
			SELECT outcome, start_time,
				ROW_NUMBER() OVER (ORDER BY start_time)
					- ROW_NUMBER() OVER (PARTITION BY outcome ORDER BY start_time) AS grp
			FROM {table}
			WHERE outcome IN (2, 3)
		)
		SELECT outcome, COUNT(*) AS length, MIN(start_time) AS started_at, MAX(start_time) AS ended_at
		FROM runs
		GROUP BY outcome, grp
		ORDER BY started_at`,
		BindPartitionFiles("table", files))

	rows, err := e.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var streaks []Streak
	for rows.Next() {
		var s Streak
		var outcome int32
		if err := rows.Scan(&outcome, &s.Length, &s.StartedAt, &s.EndedAt); err != nil {
			return nil, err
		}
		s.Outcome = domain.Outcome(outcome)
		streaks = append(streaks, s)
	}
	return streaks, rows.Err()
}

// PeakMatches ranks matches by KDA percentile, best first.
func (e *Engine) PeakMatches(ctx context.Context, files []string, limit int) ([]PeakMatch, error) {
	q := NewQuery(`
		SELECT match_id, start_time, kda,
			percent_rank() OVER (ORDER BY kda) AS pct
		FROM {table}
		WHERE kda IS NOT NULL
		ORDER BY pct DESC, start_time DESC
		LIMIT ?`,
		BindPartitionFiles("table", files))

	rows, err := e.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var peaks []PeakMatch
	for rows.Next() {
		var p PeakMatch
		if err := rows.Scan(&p.MatchID, &p.StartTime, &p.KDA, &p.PercentRank); err != nil {
			return nil, err
		}
		peaks = append(peaks, p)
	}
	return peaks, rows.Err()
}

// ComparePeriods splits [now-2*window, now) into two equal windows and
// aggregates each.
func (e *Engine) ComparePeriods(ctx context.Context, files []string, now time.Time, window time.Duration) (PeriodComparison, error) {
	now = now.UTC()
	mid := now.Add(-window)
	start := now.Add(-2 * window)

	q := NewQuery(`
		SELECT CASE WHEN start_time >= ? THEN 'current' ELSE 'previous' END AS period,
			COUNT(*) AS matches,
			SUM(CASE WHEN outcome = 2 THEN 1 ELSE 0 END) AS wins,
			AVG(kda) AS avg_kda,
			AVG(accuracy) AS avg_accuracy
		FROM {table}
		WHERE start_time >= ? AND start_time < ?
		GROUP BY 1`,
		BindPartitionFiles("table", files))

	rows, err := e.Query(ctx, q, mid, start, now)
	if err != nil {
		return PeriodComparison{}, err
	}
	defer rows.Close()

	var cmp PeriodComparison
	for rows.Next() {
		var period string
		var stats PeriodStats
		var kda, acc sql.NullFloat64
		if err := rows.Scan(&period, &stats.Matches, &stats.Wins, &kda, &acc); err != nil {
			return PeriodComparison{}, err
		}
		if kda.Valid {
			stats.AvgKDA = &kda.Float64
		}
		if acc.Valid {
			stats.AvgAccuracy = &acc.Float64
		}
		if period == "current" {
			cmp.Current = stats
		} else {
			cmp.Previous = stats
		}
	}
	return cmp, rows.Err()
}
