package postgres

import (
	"context"
	"fmt"

	"github.com/launchindex/indexer/internal/indexer"
)

// StatusCounts returns address counts per lifecycle status.
func (s *Store) StatusCounts(ctx context.Context, projectID string) (indexer.StatusCounts, error) {
	rows, err := s.db.Query(ctx, `
SELECT status, COUNT(*) FROM addresses
WHERE ($1 = '' OR project_id = $1)
GROUP BY status`, projectID)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}
	defer rows.Close()
	counts := indexer.StatusCounts{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[indexer.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

// ChannelTotals aggregates the attempt log per channel.
func (s *Store) ChannelTotals(ctx context.Context, projectID string) (map[string]indexer.ChannelTotals, error) {
	rows, err := s.db.Query(ctx, `
SELECT t.channel,
       COUNT(*),
       COUNT(*) FILTER (WHERE t.status = 'success'),
       COUNT(*) FILTER (WHERE t.status <> 'success')
FROM attempts t
JOIN addresses a ON a.id = t.address_id
WHERE ($1 = '' OR a.project_id = $1)
GROUP BY t.channel`, projectID)
	if err != nil {
		return nil, fmt.Errorf("channel totals: %w", err)
	}
	defer rows.Close()
	totals := map[string]indexer.ChannelTotals{}
	for rows.Next() {
		var (
			channel string
			t       indexer.ChannelTotals
		)
		if err := rows.Scan(&channel, &t.Attempts, &t.Success, &t.Error); err != nil {
			return nil, fmt.Errorf("scan channel total: %w", err)
		}
		totals[channel] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channel totals: %w", err)
	}
	return totals, nil
}

// SpeedBuckets buckets time-to-index at 24h/48h/72h/7d.
func (s *Store) SpeedBuckets(ctx context.Context, projectID string) (indexer.SpeedBuckets, error) {
	var b indexer.SpeedBuckets
	err := s.db.QueryRow(ctx, `
SELECT COUNT(*) FILTER (WHERE status <> 'pending'),
       COUNT(*) FILTER (WHERE indexed_at IS NOT NULL AND submitted_at IS NOT NULL AND indexed_at - submitted_at <= INTERVAL '24 hours'),
       COUNT(*) FILTER (WHERE indexed_at IS NOT NULL AND submitted_at IS NOT NULL AND indexed_at - submitted_at <= INTERVAL '48 hours'),
       COUNT(*) FILTER (WHERE indexed_at IS NOT NULL AND submitted_at IS NOT NULL AND indexed_at - submitted_at <= INTERVAL '72 hours'),
       COUNT(*) FILTER (WHERE indexed_at IS NOT NULL AND submitted_at IS NOT NULL AND indexed_at - submitted_at <= INTERVAL '7 days')
FROM addresses
WHERE ($1 = '' OR project_id = $1)`, projectID).
		Scan(&b.TotalSubmitted, &b.Indexed24h, &b.Indexed48h, &b.Indexed72h, &b.Indexed7d)
	if err != nil {
		return indexer.SpeedBuckets{}, fmt.Errorf("speed buckets: %w", err)
	}
	return b, nil
}

// IndexedByService counts addresses confirmed absent at least once before
// they were finally indexed.
func (s *Store) IndexedByService(ctx context.Context, projectID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
SELECT COUNT(*) FROM addresses
WHERE status = 'indexed' AND verified_not_indexed
  AND ($1 = '' OR project_id = $1)`, projectID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("indexed by service: %w", err)
	}
	return n, nil
}

// DailySeries returns submitted/indexed counts per day for the last N days.
func (s *Store) DailySeries(ctx context.Context, projectID string, days int) ([]indexer.DailyCount, error) {
	rows, err := s.db.Query(ctx, `
WITH series AS (
    SELECT generate_series(
        date_trunc('day', now() AT TIME ZONE 'utc') - ($2 - 1) * INTERVAL '1 day',
        date_trunc('day', now() AT TIME ZONE 'utc'),
        INTERVAL '1 day'
    )::date AS day
)
SELECT to_char(s.day, 'YYYY-MM-DD'),
       (SELECT COUNT(*) FROM addresses a
         WHERE ($1 = '' OR a.project_id = $1)
           AND a.submitted_at IS NOT NULL
           AND (a.submitted_at AT TIME ZONE 'utc')::date = s.day),
       (SELECT COUNT(*) FROM addresses a
         WHERE ($1 = '' OR a.project_id = $1)
           AND a.indexed_at IS NOT NULL
           AND (a.indexed_at AT TIME ZONE 'utc')::date = s.day)
FROM series s
ORDER BY s.day`, projectID, days)
	if err != nil {
		return nil, fmt.Errorf("daily series: %w", err)
	}
	defer rows.Close()
	var out []indexer.DailyCount
	for rows.Next() {
		var d indexer.DailyCount
		if err := rows.Scan(&d.Day, &d.Submitted, &d.Indexed); err != nil {
			return nil, fmt.Errorf("scan daily count: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily series: %w", err)
	}
	return out, nil
}
