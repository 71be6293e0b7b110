package db

import (
	"context"
	"fmt"
	"time"
)

type Totals struct {
	Projects       int64      `json:"projects"`
	Stories        int64      `json:"stories"`
	Processed      int64      `json:"processed"`
	AboveThreshold int64      `json:"above_threshold"`
	Posted         int64      `json:"posted"`
	LastQueuedAt   *time.Time `json:"last_queued_at,omitempty"`
}

type ProjectStats struct {
	ProjectID      int64 `json:"project_id"`
	Stories        int64 `json:"stories"`
	Processed      int64 `json:"processed"`
	AboveThreshold int64 `json:"above_threshold"`
	BelowThreshold int64 `json:"below_threshold"`
	Posted         int64 `json:"posted"`
	UnpostedAbove  int64 `json:"unposted_above"`
}

type DayCount struct {
	Day            string `json:"day"`
	Stories        int64  `json:"stories"`
	AboveThreshold int64  `json:"above_threshold"`
}

func (s *StoryStore) Totals(ctx context.Context) (Totals, error) {
	if s == nil || s.pool == nil {
		return Totals{}, fmt.Errorf("story store is not initialized")
	}

	var totals Totals
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(DISTINCT project_id),
			COUNT(*),
			COUNT(*) FILTER (WHERE processed_at IS NOT NULL),
			COUNT(*) FILTER (WHERE above_threshold IS TRUE),
			COUNT(*) FILTER (WHERE posted_at IS NOT NULL),
			MAX(queued_at)
		FROM stories`,
	).Scan(
		&totals.Projects, &totals.Stories, &totals.Processed,
		&totals.AboveThreshold, &totals.Posted, &totals.LastQueuedAt,
	)
	if err != nil {
		return Totals{}, fmt.Errorf("select totals: %w", err)
	}
	return totals, nil
}

func (s *StoryStore) ProjectStats(ctx context.Context, projectID int64) (ProjectStats, error) {
	if s == nil || s.pool == nil {
		return ProjectStats{}, fmt.Errorf("story store is not initialized")
	}

	stats := ProjectStats{ProjectID: projectID}
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE processed_at IS NOT NULL),
			COUNT(*) FILTER (WHERE above_threshold IS TRUE),
			COUNT(*) FILTER (WHERE above_threshold IS FALSE),
			COUNT(*) FILTER (WHERE posted_at IS NOT NULL),
			COUNT(*) FILTER (WHERE above_threshold IS TRUE AND posted_at IS NULL)
		FROM stories
		WHERE project_id = ?`,
		projectID,
	).Scan(
		&stats.Stories, &stats.Processed, &stats.AboveThreshold,
		&stats.BelowThreshold, &stats.Posted, &stats.UnpostedAbove,
	)
	if err != nil {
		return ProjectStats{}, fmt.Errorf("select project stats project_id=%d: %w", projectID, err)
	}
	return stats, nil
}

func (s *StoryStore) ProcessedByDay(ctx context.Context, projectID int64, days int) ([]DayCount, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("story store is not initialized")
	}
	if days <= 0 {
		days = 30
	}

	rows, err := s.pool.Query(ctx, `
		SELECT
			to_char(date_trunc('day', processed_at), 'YYYY-MM-DD') AS day,
			COUNT(*),
			COUNT(*) FILTER (WHERE above_threshold IS TRUE)
		FROM stories
		WHERE project_id = ? AND processed_at IS NOT NULL
		GROUP BY 1
		ORDER BY 1 DESC
		LIMIT ?`,
		projectID, days,
	)
	if err != nil {
		return nil, fmt.Errorf("select processed-by-day project_id=%d: %w", projectID, err)
	}
	defer rows.Close()

	var buckets []DayCount
	for rows.Next() {
		var bucket DayCount
		if err := rows.Scan(&bucket.Day, &bucket.Stories, &bucket.AboveThreshold); err != nil {
			return nil, fmt.Errorf("scan processed-by-day bucket: %w", err)
		}
		buckets = append(buckets, bucket)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate processed-by-day buckets: %w", err)
	}
	return buckets, nil
}
