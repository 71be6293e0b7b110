package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/counterdata-network/story-processor/internal/globaltime"
)

// Watermark is the resumable position for one (project, source) pair.
// A zero LastPublishDate means no story with a publish date has been
// observed yet.
type Watermark struct {
	LastProcessedID string
	LastPublishDate time.Time
	LastURL         string
}

type WatermarkStore struct {
	pool *Pool
}

func NewWatermarkStore(pool *Pool) *WatermarkStore {
	return &WatermarkStore{pool: pool}
}

func (s *WatermarkStore) Get(ctx context.Context, projectID int64, source string) (Watermark, bool, error) {
	if s == nil || s.pool == nil {
		return Watermark{}, false, fmt.Errorf("watermark store is not initialized")
	}

	var (
		lastProcessedID string
		lastPublishDate *time.Time
		lastURL         *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT last_processed_id, last_publish_date, last_url
		FROM project_history
		WHERE project_id = ? AND source = ?`,
		projectID, source,
	).Scan(&lastProcessedID, &lastPublishDate, &lastURL)
	if IsNoRows(err) {
		return Watermark{}, false, nil
	}
	if err != nil {
		return Watermark{}, false, fmt.Errorf("select watermark project_id=%d source=%s: %w", projectID, source, err)
	}

	mark := Watermark{LastProcessedID: lastProcessedID}
	if lastPublishDate != nil {
		mark.LastPublishDate = lastPublishDate.UTC()
	}
	if lastURL != nil {
		mark.LastURL = *lastURL
	}
	return mark, true, nil
}

// Advance merges next into the stored watermark. The publish date never
// moves backwards; a run that observed only older stories leaves it alone.
func (s *WatermarkStore) Advance(ctx context.Context, projectID int64, source string, next Watermark) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("watermark store is not initialized")
	}

	tx, err := s.pool.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin watermark tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		currentProcessedID string
		currentPublishDate *time.Time
		currentURL         *string
	)
	current := Watermark{}
	found := true
	err = tx.QueryRow(ctx, `
		SELECT last_processed_id, last_publish_date, last_url
		FROM project_history
		WHERE project_id = ? AND source = ?
		FOR UPDATE`,
		projectID, source,
	).Scan(&currentProcessedID, &currentPublishDate, &currentURL)
	if IsNoRows(err) {
		found = false
	} else if err != nil {
		return fmt.Errorf("lock watermark project_id=%d source=%s: %w", projectID, source, err)
	} else {
		current.LastProcessedID = currentProcessedID
		if currentPublishDate != nil {
			current.LastPublishDate = currentPublishDate.UTC()
		}
		if currentURL != nil {
			current.LastURL = *currentURL
		}
	}

	merged := mergeWatermark(current, found, next)
	now := globaltime.UTC()

	var publishDate *time.Time
	if !merged.LastPublishDate.IsZero() {
		utc := merged.LastPublishDate.UTC()
		publishDate = &utc
	}
	var lastURL *string
	if merged.LastURL != "" {
		lastURL = &merged.LastURL
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO project_history (project_id, source, last_processed_id, last_publish_date, last_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id, source) DO UPDATE SET
			last_processed_id = EXCLUDED.last_processed_id,
			last_publish_date = EXCLUDED.last_publish_date,
			last_url = EXCLUDED.last_url,
			updated_at = EXCLUDED.updated_at`,
		projectID, source, merged.LastProcessedID, publishDate, lastURL, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert watermark project_id=%d source=%s: %w", projectID, source, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit watermark tx: %w", err)
	}
	return nil
}

// mergeWatermark keeps the stored watermark monotonic: the publish date
// only moves forward, and empty fields in next keep their current value.
func mergeWatermark(current Watermark, found bool, next Watermark) Watermark {
	if !found {
		return next
	}

	merged := next
	if current.LastPublishDate.After(next.LastPublishDate) {
		merged.LastPublishDate = current.LastPublishDate
		merged.LastURL = current.LastURL
	}
	if strings.TrimSpace(merged.LastProcessedID) == "" {
		merged.LastProcessedID = current.LastProcessedID
	}
	if merged.LastURL == "" {
		merged.LastURL = current.LastURL
	}
	return merged
}
