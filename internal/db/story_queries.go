package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/counterdata-network/story-processor/internal/globaltime"
)

// ErrInvalidState marks a story state transition the monotonic lifecycle
// forbids, e.g. posting a story that never scored above threshold.
var ErrInvalidState = errors.New("invalid story state transition")

// StoryKey identifies one story row.
type StoryKey struct {
	ProjectID     int64
	Source        string
	SourceStoryID string
}

func (k StoryKey) String() string {
	return fmt.Sprintf("project_id=%d source=%s source_story_id=%s", k.ProjectID, k.Source, k.SourceStoryID)
}

// StoryUpsert is a discovered story headed for the queued state.
type StoryUpsert struct {
	Key           StoryKey
	ModelID       int64
	Title         string
	URL           string
	NormalizedURL string
	MediaID       string
	MediaName     string
	MediaURL      string
	Language      string
	PublishedAt   *time.Time
	QueuedAt      time.Time
}

type EnqueueResult struct {
	Inserted   int
	Duplicates int
}

// ScoredStory carries classifier output for one story.
type ScoredStory struct {
	Key       StoryKey
	Stage1    *float64
	Stage2    *float64
	Combined  float64
	Threshold float64
}

// UnpostedStory is an above-threshold story whose publication has not
// succeeded yet.
type UnpostedStory struct {
	Key         StoryKey
	ModelID     int64
	Title       string
	URL         string
	Language    string
	PublishedAt *time.Time
	Model1Score *float64
	Model2Score *float64
	ModelScore  float64
}

type StoryStore struct {
	pool *Pool
}

func NewStoryStore(pool *Pool) *StoryStore {
	return &StoryStore{pool: pool}
}

// Enqueue inserts discovered stories. A key that already exists is left
// untouched, so fetching the same page twice is a no-op.
func (s *StoryStore) Enqueue(ctx context.Context, batch []StoryUpsert) (EnqueueResult, error) {
	if s == nil || s.pool == nil {
		return EnqueueResult{}, fmt.Errorf("story store is not initialized")
	}
	if len(batch) == 0 {
		return EnqueueResult{}, nil
	}

	tx, err := s.pool.BeginTx(ctx)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("begin enqueue tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var result EnqueueResult
	for _, story := range batch {
		queuedAt := story.QueuedAt
		if queuedAt.IsZero() {
			queuedAt = globaltime.UTC()
		}

		rows, err := tx.Exec(ctx, `
			INSERT INTO stories (
				project_id, source, source_story_id, model_id,
				title, url, normalized_url,
				media_id, media_name, media_url,
				language, published_at, queued_at, created_at, updated_at
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (project_id, source, source_story_id) DO NOTHING`,
			story.Key.ProjectID, story.Key.Source, story.Key.SourceStoryID, story.ModelID,
			story.Title, story.URL, story.NormalizedURL,
			nullableString(story.MediaID), nullableString(story.MediaName), nullableString(story.MediaURL),
			story.Language, story.PublishedAt, queuedAt, queuedAt, queuedAt,
		)
		if err != nil {
			return result, fmt.Errorf("insert story %s: %w", story.Key, err)
		}
		if rows > 0 {
			result.Inserted++
		} else {
			result.Duplicates++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return result, fmt.Errorf("commit enqueue tx: %w", err)
	}
	return result, nil
}

// RecordScores stores classifier output and moves stories to the scored
// state. processed_at is only ever set once; re-delivered queue jobs
// overwrite scores but never clear timestamps.
func (s *StoryStore) RecordScores(ctx context.Context, scored []ScoredStory) (int, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("story store is not initialized")
	}
	if len(scored) == 0 {
		return 0, nil
	}

	now := globaltime.UTC()
	updated := 0
	for _, story := range scored {
		rows, err := s.pool.Exec(ctx, `
			UPDATE stories SET
				model_1_score = ?,
				model_2_score = ?,
				model_score = ?,
				above_threshold = ?,
				processed_at = COALESCE(processed_at, ?),
				updated_at = ?
			WHERE project_id = ? AND source = ? AND source_story_id = ?
			  AND queued_at IS NOT NULL`,
			story.Stage1, story.Stage2, story.Combined,
			story.Combined >= story.Threshold, now, now,
			story.Key.ProjectID, story.Key.Source, story.Key.SourceStoryID,
		)
		if err != nil {
			return updated, fmt.Errorf("record scores for %s: %w", story.Key, err)
		}
		updated += int(rows)
	}
	return updated, nil
}

// RecordPosted marks a story posted. Only above-threshold stories may be
// posted; anything else is ErrInvalidState and the row is left untouched.
func (s *StoryStore) RecordPosted(ctx context.Context, key StoryKey) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("story store is not initialized")
	}

	now := globaltime.UTC()
	rows, err := s.pool.Exec(ctx, `
		UPDATE stories SET
			posted_at = COALESCE(posted_at, ?),
			updated_at = ?
		WHERE project_id = ? AND source = ? AND source_story_id = ?
		  AND above_threshold IS TRUE`,
		now, now, key.ProjectID, key.Source, key.SourceStoryID,
	)
	if err != nil {
		return fmt.Errorf("record posted for %s: %w", key, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s is not above threshold: %w", key, ErrInvalidState)
	}
	return nil
}

// RecentNormalizedURLs returns the normalized URLs already stored for a
// project since the cutoff, used for cross-run dedup.
func (s *StoryStore) RecentNormalizedURLs(ctx context.Context, projectID int64, since time.Time) (map[string]struct{}, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("story store is not initialized")
	}

	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT normalized_url
		FROM stories
		WHERE project_id = ? AND created_at >= ? AND normalized_url <> ''`,
		projectID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("select recent URLs project_id=%d: %w", projectID, err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan recent URL: %w", err)
		}
		seen[u] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent URLs: %w", err)
	}
	return seen, nil
}

// ListUnposted returns above-threshold stories still waiting for a
// successful publication, oldest first.
func (s *StoryStore) ListUnposted(ctx context.Context, limit int) ([]UnpostedStory, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("story store is not initialized")
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT project_id, source, source_story_id, model_id,
		       title, url, language, published_at,
		       model_1_score, model_2_score, model_score
		FROM stories
		WHERE above_threshold IS TRUE AND posted_at IS NULL
		ORDER BY processed_at ASC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select unposted stories: %w", err)
	}
	defer rows.Close()

	var unposted []UnpostedStory
	for rows.Next() {
		var story UnpostedStory
		var modelScore *float64
		if err := rows.Scan(
			&story.Key.ProjectID, &story.Key.Source, &story.Key.SourceStoryID, &story.ModelID,
			&story.Title, &story.URL, &story.Language, &story.PublishedAt,
			&story.Model1Score, &story.Model2Score, &modelScore,
		); err != nil {
			return nil, fmt.Errorf("scan unposted story: %w", err)
		}
		if modelScore != nil {
			story.ModelScore = *modelScore
		}
		unposted = append(unposted, story)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unposted stories: %w", err)
	}
	return unposted, nil
}

func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
