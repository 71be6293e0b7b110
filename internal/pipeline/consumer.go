package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/counterdata-network/story-processor/internal/classify"
	"github.com/counterdata-network/story-processor/internal/db"
	"github.com/counterdata-network/story-processor/internal/publish"
	"github.com/counterdata-network/story-processor/internal/queue"
)

// ScoreStore is the slice of db.StoryStore the consumer needs.
type ScoreStore interface {
	RecordScores(ctx context.Context, scored []db.ScoredStory) (int, error)
	RecordPosted(ctx context.Context, key db.StoryKey) error
	ListUnposted(ctx context.Context, limit int) ([]db.UnpostedStory, error)
}

// Publisher posts one story to the main server.
type Publisher interface {
	PostStory(ctx context.Context, payload publish.StoryPayload) error
}

// ClassifierRegistry routes a model id to its classifier.
type ClassifierRegistry interface {
	ClassifierFor(modelID int64) (*classify.Classifier, error)
}

// TextResolver fills in story text from a pre-extracted content URL.
type TextResolver interface {
	ExtractedText(ctx context.Context, contentURL string) (string, error)
}

// JobStats is the outcome of one classification job.
type JobStats struct {
	Scored  int
	Above   int
	Posted  int
	Skipped int
}

// Consumer drains classification jobs: score, record, post. Jobs are
// retried up to maxAttempts; configuration errors are buried right
// away since retrying cannot fix them.
type Consumer struct {
	store       ScoreStore
	registry    ClassifierRegistry
	publisher   Publisher
	texts       TextResolver
	jobs        queue.Queue
	logger      zerolog.Logger
	maxAttempts int
}

func NewConsumer(store ScoreStore, registry ClassifierRegistry, publisher Publisher, texts TextResolver, jobs queue.Queue, logger zerolog.Logger, maxAttempts int) *Consumer {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return &Consumer{
		store:       store,
		registry:    registry,
		publisher:   publisher,
		texts:       texts,
		jobs:        jobs,
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

// Run consumes jobs until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		job, ok, err := c.jobs.Dequeue(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn().Err(err).Msg("dequeue failed, backing off")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		if !ok {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		if _, err := c.Process(ctx, job); err != nil {
			c.retry(ctx, job, err)
		}
	}
}

// Drain processes queued jobs until the queue is empty, for run-once
// mode.
func (c *Consumer) Drain(ctx context.Context) (JobStats, error) {
	var total JobStats
	for {
		job, ok, err := c.jobs.Dequeue(ctx, 0)
		if err != nil {
			return total, err
		}
		if !ok {
			return total, nil
		}

		stats, err := c.Process(ctx, job)
		total.Scored += stats.Scored
		total.Above += stats.Above
		total.Posted += stats.Posted
		total.Skipped += stats.Skipped
		if err != nil {
			c.retry(ctx, job, err)
		}
	}
}

// Process scores one job and posts its above-threshold stories. It is
// idempotent: scores are upserts and posting keys on the source story
// id, so redelivery after a crash is safe.
func (c *Consumer) Process(ctx context.Context, job queue.Job) (JobStats, error) {
	var stats JobStats
	if len(job.Stories) == 0 {
		return stats, nil
	}

	logger := c.logger.With().
		Str("job_id", job.ID).
		Int64("project_id", job.ProjectID).
		Int64("model_id", job.ModelID).
		Logger()

	classifier, err := c.registry.ClassifierFor(job.ModelID)
	if err != nil {
		return stats, fmt.Errorf("job %s: %w", job.ID, err)
	}

	texts := make([]string, len(job.Stories))
	for i, story := range job.Stories {
		texts[i] = c.resolveText(ctx, story, logger)
	}

	result, err := classifier.Score(ctx, texts)
	if err != nil {
		return stats, fmt.Errorf("job %s: %w", job.ID, err)
	}

	scored := make([]db.ScoredStory, len(job.Stories))
	for i, story := range job.Stories {
		scored[i] = db.ScoredStory{
			Key: db.StoryKey{
				ProjectID:     story.ProjectID,
				Source:        story.Source,
				SourceStoryID: story.SourceStoryID,
			},
			Stage1:    scoreAt(result.Stage1, i),
			Stage2:    scoreAt(result.Stage2, i),
			Combined:  result.Combined[i],
			Threshold: job.Threshold,
		}
	}
	if _, err := c.store.RecordScores(ctx, scored); err != nil {
		return stats, fmt.Errorf("job %s: %w", job.ID, err)
	}
	stats.Scored = len(scored)

	for i, story := range job.Stories {
		if result.Combined[i] < job.Threshold {
			continue
		}
		stats.Above++

		payload := publish.StoryPayload{
			ProjectID:     story.ProjectID,
			ModelID:       job.ModelID,
			Source:        story.Source,
			SourceStoryID: story.SourceStoryID,
			URL:           story.URL,
			Title:         story.Title,
			Language:      story.Language,
			PublishedAt:   story.PublishedAt,
			Model1Score:   scored[i].Stage1,
			Model2Score:   scored[i].Stage2,
			ModelScore:    result.Combined[i],
		}
		if err := c.publisher.PostStory(ctx, payload); err != nil {
			// The story stays above-threshold and unposted; a later
			// cycle picks it up through ListUnposted.
			logger.Warn().Err(err).Str("source_story_id", story.SourceStoryID).Msg("publication failed, story left unposted")
			stats.Skipped++
			continue
		}
		if err := c.store.RecordPosted(ctx, scored[i].Key); err != nil {
			if errors.Is(err, db.ErrInvalidState) {
				logger.Error().Err(err).Str("source_story_id", story.SourceStoryID).Msg("refusing to mark story posted")
				continue
			}
			return stats, fmt.Errorf("job %s: %w", job.ID, err)
		}
		stats.Posted++
	}

	logger.Info().
		Int("scored", stats.Scored).
		Int("above", stats.Above).
		Int("posted", stats.Posted).
		Msg("classification job finished")
	return stats, nil
}

// PostPending retries publication for stories that scored above
// threshold but were never posted.
func (c *Consumer) PostPending(ctx context.Context, limit int) (int, error) {
	pending, err := c.store.ListUnposted(ctx, limit)
	if err != nil {
		return 0, err
	}

	posted := 0
	for _, story := range pending {
		payload := publish.StoryPayload{
			ProjectID:     story.Key.ProjectID,
			ModelID:       story.ModelID,
			Source:        story.Key.Source,
			SourceStoryID: story.Key.SourceStoryID,
			URL:           story.URL,
			Title:         story.Title,
			Language:      story.Language,
			PublishedAt:   story.PublishedAt,
			Model1Score:   story.Model1Score,
			Model2Score:   story.Model2Score,
			ModelScore:    story.ModelScore,
		}
		if err := c.publisher.PostStory(ctx, payload); err != nil {
			c.logger.Warn().Err(err).Str("story", story.Key.String()).Msg("pending publication failed")
			continue
		}
		if err := c.store.RecordPosted(ctx, story.Key); err != nil {
			if errors.Is(err, db.ErrInvalidState) {
				c.logger.Error().Err(err).Str("story", story.Key.String()).Msg("refusing to mark story posted")
				continue
			}
			return posted, err
		}
		posted++
	}
	return posted, nil
}

func (c *Consumer) resolveText(ctx context.Context, story queue.Story, logger zerolog.Logger) string {
	if story.Text != "" {
		return story.Text
	}
	if story.ContentURL != "" && c.texts != nil {
		text, err := c.texts.ExtractedText(ctx, story.ContentURL)
		if err == nil && text != "" {
			return text
		}
		if err != nil {
			logger.Debug().Err(err).Str("content_url", story.ContentURL).Msg("extracted text fetch failed")
		}
	}
	return story.Title
}

func (c *Consumer) retry(ctx context.Context, job queue.Job, cause error) {
	logger := c.logger.With().Str("job_id", job.ID).Int64("project_id", job.ProjectID).Logger()

	job.Attempts++
	if errors.Is(cause, classify.ErrConfiguration) || job.Attempts >= c.maxAttempts {
		logger.Error().Err(cause).Int("attempts", job.Attempts).Msg("burying classification job")
		if err := c.jobs.Bury(ctx, job); err != nil {
			logger.Error().Err(err).Msg("failed to bury job")
		}
		return
	}

	logger.Warn().Err(cause).Int("attempts", job.Attempts).Msg("requeueing classification job")
	if err := c.jobs.Enqueue(ctx, job); err != nil {
		logger.Error().Err(err).Msg("failed to requeue job")
	}
}

func scoreAt(scores []float64, i int) *float64 {
	if i >= len(scores) {
		return nil
	}
	value := scores[i]
	return &value
}
