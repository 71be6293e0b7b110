// Package pipeline orchestrates fetch cycles and the classify-and-post
// consumer.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/counterdata-network/story-processor/internal/db"
	"github.com/counterdata-network/story-processor/internal/dedup"
	"github.com/counterdata-network/story-processor/internal/globaltime"
	"github.com/counterdata-network/story-processor/internal/langdetect"
	"github.com/counterdata-network/story-processor/internal/projects"
	"github.com/counterdata-network/story-processor/internal/queue"
	"github.com/counterdata-network/story-processor/internal/sources"
)

// StoryStore is the slice of db.StoryStore a fetch cycle needs.
type StoryStore interface {
	Enqueue(ctx context.Context, batch []db.StoryUpsert) (db.EnqueueResult, error)
	RecentNormalizedURLs(ctx context.Context, projectID int64, since time.Time) (map[string]struct{}, error)
}

// WatermarkStore is the slice of db.WatermarkStore a fetch cycle needs.
type WatermarkStore interface {
	Get(ctx context.Context, projectID int64, source string) (db.Watermark, bool, error)
	Advance(ctx context.Context, projectID int64, source string, next db.Watermark) error
}

// Options bound one fetch cycle.
type Options struct {
	// PoolSize is the number of concurrent per-project workers.
	PoolSize int
	// LookbackDays is the cross-run URL dedup window.
	LookbackDays int
	// MaxWindowDays caps how far back a fetch window may reach when the
	// adapter does not narrow it further.
	MaxWindowDays int
	// Overlap is subtracted from the watermark so slow-to-index stories
	// near the boundary are not missed.
	Overlap time.Duration
	// MaxStoriesPerProject stops paging once a project has yielded this
	// many stories in one cycle.
	MaxStoriesPerProject int
	// PageTimeout bounds a single adapter page fetch.
	PageTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.PoolSize < 1 {
		o.PoolSize = 8
	}
	if o.LookbackDays < 1 {
		o.LookbackDays = 14
	}
	if o.MaxWindowDays < 1 {
		o.MaxWindowDays = 30
	}
	if o.Overlap <= 0 {
		o.Overlap = 24 * time.Hour
	}
	if o.MaxStoriesPerProject < 1 {
		o.MaxStoriesPerProject = 5000
	}
	if o.PageTimeout <= 0 {
		o.PageTimeout = 2 * time.Minute
	}
	return o
}

// ProjectResult is the outcome of one project's fetch within a cycle.
type ProjectResult struct {
	ProjectID      int64
	Title          string
	Pages          int
	Found          int
	Deduped        int
	Queued         int
	MaxPublishDate time.Time
	Err            error
}

type CycleResult struct {
	Source   string
	Projects []ProjectResult
	Duration time.Duration
}

func (r CycleResult) TotalFound() int {
	total := 0
	for _, project := range r.Projects {
		total += project.Found
	}
	return total
}

func (r CycleResult) TotalQueued() int {
	total := 0
	for _, project := range r.Projects {
		total += project.Queued
	}
	return total
}

func (r CycleResult) Failed() []ProjectResult {
	var failed []ProjectResult
	for _, project := range r.Projects {
		if project.Err != nil {
			failed = append(failed, project)
		}
	}
	return failed
}

// Service runs fetch cycles: one source, all projects, a bounded worker
// pool, per-project failure isolation.
type Service struct {
	stories  StoryStore
	marks    WatermarkStore
	jobs     queue.Queue
	adapters map[string]sources.Adapter
	logger   zerolog.Logger
	opts     Options
}

func NewService(stories StoryStore, marks WatermarkStore, jobs queue.Queue, adapters map[string]sources.Adapter, logger zerolog.Logger, opts Options) *Service {
	return &Service{
		stories:  stories,
		marks:    marks,
		jobs:     jobs,
		adapters: adapters,
		logger:   logger,
		opts:     opts.withDefaults(),
	}
}

// RunCycle fetches every project from one source. A failing project
// never aborts the others; its error lands in the ProjectResult.
func (s *Service) RunCycle(ctx context.Context, sourceName string, projectList []projects.Project) (CycleResult, error) {
	adapter, ok := s.adapters[sourceName]
	if !ok {
		return CycleResult{}, fmt.Errorf("no adapter configured for source %q", sourceName)
	}

	started := globaltime.UTC()
	s.logger.Info().
		Str("source", sourceName).
		Int("projects", len(projectList)).
		Int("pool_size", s.opts.PoolSize).
		Msg("fetch cycle started")

	work := make(chan projects.Project)
	results := make(chan ProjectResult)

	workers := s.opts.PoolSize
	if workers > len(projectList) {
		workers = len(projectList)
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for project := range work {
				results <- s.runProject(ctx, adapter, project)
			}
		}()
	}

	go func() {
		defer close(work)
		for _, project := range projectList {
			select {
			case work <- project:
			case <-ctx.Done():
				// Undispatched projects are dropped; the next run
				// resumes them from their watermarks.
				return
			}
		}
	}()

	// Closing results once the workers drain lets cancellation cut the
	// cycle short without waiting on projects that were never dispatched.
	go func() {
		wg.Wait()
		close(results)
	}()

	cycle := CycleResult{Source: sourceName}
	for result := range results {
		cycle.Projects = append(cycle.Projects, result)
	}
	sort.Slice(cycle.Projects, func(i, j int) bool {
		return cycle.Projects[i].ProjectID < cycle.Projects[j].ProjectID
	})
	cycle.Duration = globaltime.Since(started)

	s.logger.Info().
		Str("source", sourceName).
		Int("found", cycle.TotalFound()).
		Int("queued", cycle.TotalQueued()).
		Int("failed", len(cycle.Failed())).
		Dur("duration", cycle.Duration).
		Msg("fetch cycle finished")
	return cycle, nil
}

func (s *Service) runProject(ctx context.Context, adapter sources.Adapter, project projects.Project) (result ProjectResult) {
	result.ProjectID = project.ID
	result.Title = project.Title

	defer func() {
		if recovered := recover(); recovered != nil {
			result.Err = fmt.Errorf("project %d panicked: %v", project.ID, recovered)
		}
	}()

	logger := s.logger.With().
		Int64("project_id", project.ID).
		Str("source", adapter.Name()).
		Logger()

	mark, found, err := s.marks.Get(ctx, project.ID, adapter.Name())
	if err != nil {
		result.Err = err
		return result
	}

	now := globaltime.UTC()
	window := s.fetchWindow(adapter, mark, found, now)

	seen, err := s.stories.RecentNormalizedURLs(ctx, project.ID, now.AddDate(0, 0, -s.opts.LookbackDays))
	if err != nil {
		result.Err = err
		return result
	}
	if seen == nil {
		seen = make(map[string]struct{})
	}

	resumable := false
	if resumer, ok := adapter.(idResumer); ok {
		resumable = resumer.ResumesByID()
	}

	var (
		cursor  sources.Cursor
		maxPub  time.Time
		lastURL string
		lastID  string
	)

	for {
		pageCtx, cancel := context.WithTimeout(ctx, s.opts.PageTimeout)
		page, err := adapter.FetchPage(pageCtx, project, window, cursor)
		cancel()
		if err != nil {
			if sources.IsTransient(err) && result.Pages > 0 {
				// Keep the partial progress; the next run resumes
				// from whatever we advance to below.
				logger.Warn().Err(err).Int("pages", result.Pages).Msg("transient source failure, stopping early")
				break
			}
			result.Err = err
			return result
		}

		result.Pages++
		result.Found += len(page.Stories)

		batch := dedup.FilterIntraBatch(page.Stories)
		result.Deduped += len(page.Stories) - len(batch)
		batch, dropped := dedup.FilterSeen(batch, seen)
		result.Deduped += dropped

		if queued, err := s.enqueueBatch(ctx, adapter.Name(), project, batch); err != nil {
			result.Err = err
			return result
		} else {
			result.Queued += queued
		}

		for _, story := range batch {
			if story.PublishedAt != nil && story.PublishedAt.After(maxPub) {
				maxPub = *story.PublishedAt
				lastURL = story.URL
			}
		}
		if page.Next != "" {
			cursor = page.Next
			// Page-number cursors (Wayback, NewsData tokens) are
			// meaningless on the next run; only durable ids persist.
			if resumable {
				lastID = string(page.Next)
			}
		}
		if page.Done || result.Found >= s.opts.MaxStoriesPerProject {
			break
		}
	}

	result.MaxPublishDate = maxPub
	next := db.Watermark{
		LastProcessedID: lastID,
		LastPublishDate: maxPub,
		LastURL:         lastURL,
	}
	if err := s.marks.Advance(ctx, project.ID, adapter.Name(), next); err != nil {
		result.Err = err
		return result
	}

	logger.Info().
		Int("pages", result.Pages).
		Int("found", result.Found).
		Int("deduped", result.Deduped).
		Int("queued", result.Queued).
		Time("max_publish_date", maxPub).
		Msg("project fetch finished")
	return result
}

// dayWindowed is implemented by adapters whose API tolerates only a
// narrow date window per query.
type dayWindowed interface {
	MaxDayWindow() int
}

// idResumer is implemented by adapters whose cursor is a durable story
// id worth persisting in the watermark across runs.
type idResumer interface {
	ResumesByID() bool
}

// fetchWindow derives the date window from the watermark: resume just
// behind the last seen publish date, bounded by the adapter's day
// window (falling back to the cycle-wide max).
func (s *Service) fetchWindow(adapter sources.Adapter, mark db.Watermark, found bool, now time.Time) sources.Window {
	maxDays := s.opts.MaxWindowDays
	if windowed, ok := adapter.(dayWindowed); ok {
		if days := windowed.MaxDayWindow(); days > 0 && days < maxDays {
			maxDays = days
		}
	}

	start := now.AddDate(0, 0, -maxDays)
	if found && !mark.LastPublishDate.IsZero() {
		resumed := mark.LastPublishDate.Add(-s.opts.Overlap)
		if resumed.After(start) {
			start = resumed
		}
	}
	return sources.Window{Start: start, End: now, ResumeID: mark.LastProcessedID}
}

func (s *Service) enqueueBatch(ctx context.Context, sourceName string, project projects.Project, batch []sources.RawStory) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	now := globaltime.UTC()
	upserts := make([]db.StoryUpsert, 0, len(batch))
	jobStories := make([]queue.Story, 0, len(batch))
	for _, story := range batch {
		language := storyLanguage(story, project)
		upserts = append(upserts, db.StoryUpsert{
			Key: db.StoryKey{
				ProjectID:     project.ID,
				Source:        sourceName,
				SourceStoryID: story.SourceStoryID,
			},
			ModelID:       project.LanguageModelID,
			Title:         story.Title,
			URL:           story.URL,
			NormalizedURL: dedup.NormalizeURL(story.URL),
			MediaID:       story.MediaID,
			MediaName:     story.MediaName,
			MediaURL:      story.MediaURL,
			Language:      language,
			PublishedAt:   story.PublishedAt,
			QueuedAt:      now,
		})
		jobStories = append(jobStories, queue.Story{
			ProjectID:     project.ID,
			Source:        sourceName,
			SourceStoryID: story.SourceStoryID,
			Title:         story.Title,
			URL:           story.URL,
			Language:      language,
			PublishedAt:   story.PublishedAt,
			Text:          story.Text,
			ContentURL:    story.ContentURL,
		})
	}

	result, err := s.stories.Enqueue(ctx, upserts)
	if err != nil {
		return 0, fmt.Errorf("enqueue stories for project %d: %w", project.ID, err)
	}

	job := queue.Job{
		ID:         uuid.NewString(),
		ProjectID:  project.ID,
		ModelID:    project.LanguageModelID,
		Threshold:  project.MinConfidence,
		Source:     sourceName,
		EnqueuedAt: now,
		Stories:    jobStories,
	}
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		return 0, fmt.Errorf("queue classification job for project %d: %w", project.ID, err)
	}
	return result.Inserted, nil
}

func storyLanguage(story sources.RawStory, project projects.Project) string {
	if code := langdetect.NormalizeCode(story.Language); code != "" {
		return code
	}
	if detected := langdetect.DetectISO6391(strings.TrimSpace(story.Title + " " + story.Text)); detected != "" {
		return detected
	}
	return project.Language
}
