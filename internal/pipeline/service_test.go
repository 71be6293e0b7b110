package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/counterdata-network/story-processor/internal/db"
	"github.com/counterdata-network/story-processor/internal/globaltime"
	"github.com/counterdata-network/story-processor/internal/projects"
	"github.com/counterdata-network/story-processor/internal/queue"
	"github.com/counterdata-network/story-processor/internal/sources"
)

type fakeStoryStore struct {
	mu         sync.Mutex
	rows       map[db.StoryKey]db.StoryUpsert
	enqueueErr error
}

func newFakeStoryStore() *fakeStoryStore {
	return &fakeStoryStore{rows: make(map[db.StoryKey]db.StoryUpsert)}
}

func (s *fakeStoryStore) Enqueue(_ context.Context, batch []db.StoryUpsert) (db.EnqueueResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enqueueErr != nil {
		return db.EnqueueResult{}, s.enqueueErr
	}

	var result db.EnqueueResult
	for _, story := range batch {
		if _, exists := s.rows[story.Key]; exists {
			result.Duplicates++
			continue
		}
		s.rows[story.Key] = story
		result.Inserted++
	}
	return result, nil
}

func (s *fakeStoryStore) RecentNormalizedURLs(_ context.Context, projectID int64, _ time.Time) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	for key, story := range s.rows {
		if key.ProjectID == projectID && story.NormalizedURL != "" {
			seen[story.NormalizedURL] = struct{}{}
		}
	}
	return seen, nil
}

type fakeWatermarks struct {
	mu       sync.Mutex
	marks    map[string]db.Watermark
	advances map[string][]db.Watermark
}

func newFakeWatermarks() *fakeWatermarks {
	return &fakeWatermarks{
		marks:    make(map[string]db.Watermark),
		advances: make(map[string][]db.Watermark),
	}
}

func watermarkKey(projectID int64, source string) string {
	return fmt.Sprintf("%d/%s", projectID, source)
}

func (w *fakeWatermarks) Get(_ context.Context, projectID int64, source string) (db.Watermark, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	mark, found := w.marks[watermarkKey(projectID, source)]
	return mark, found, nil
}

func (w *fakeWatermarks) Advance(_ context.Context, projectID int64, source string, next db.Watermark) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := watermarkKey(projectID, source)
	w.advances[key] = append(w.advances[key], next)

	current, found := w.marks[key]
	if found && current.LastPublishDate.After(next.LastPublishDate) {
		next.LastPublishDate = current.LastPublishDate
		next.LastURL = current.LastURL
	}
	w.marks[key] = next
	return nil
}

type scriptedPage struct {
	page sources.Page
	err  error
}

// scriptedAdapter replays a fixed page sequence per project.
type scriptedAdapter struct {
	mu          sync.Mutex
	pages       map[int64][]scriptedPage
	calls       map[int64]int
	windows     map[int64][]sources.Window
	resumesByID bool
}

func newScriptedAdapter() *scriptedAdapter {
	return &scriptedAdapter{
		pages:       make(map[int64][]scriptedPage),
		calls:       make(map[int64]int),
		windows:     make(map[int64][]sources.Window),
		resumesByID: true,
	}
}

func (a *scriptedAdapter) Name() string { return "scripted" }

func (a *scriptedAdapter) ResumesByID() bool { return a.resumesByID }

func (a *scriptedAdapter) FetchPage(_ context.Context, project projects.Project, window sources.Window, _ sources.Cursor) (sources.Page, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.windows[project.ID] = append(a.windows[project.ID], window)
	index := a.calls[project.ID]
	a.calls[project.ID]++

	script := a.pages[project.ID]
	if index >= len(script) {
		return sources.Page{Done: true}, nil
	}
	return script[index].page, script[index].err
}

func ts(day, hour int) *time.Time {
	t := time.Date(2026, 2, day, hour, 0, 0, 0, time.UTC)
	return &t
}

func rawStory(id, url, title string, published *time.Time) sources.RawStory {
	return sources.RawStory{
		SourceStoryID: id,
		URL:           url,
		Title:         title,
		PublishedAt:   published,
		Language:      "en",
		MediaID:       "10",
		Text:          "some article text for " + id,
	}
}

func serviceProject(id int64) projects.Project {
	return projects.Project{
		ID:              id,
		Title:           fmt.Sprintf("project-%d", id),
		SearchTerms:     "femicide",
		Language:        "en",
		LanguageModelID: 7,
		MinConfidence:   0.5,
	}
}

func newTestService(stories *fakeStoryStore, marks *fakeWatermarks, jobs queue.Queue, adapter sources.Adapter) *Service {
	return NewService(
		stories, marks, jobs,
		map[string]sources.Adapter{adapter.(*scriptedAdapter).Name(): adapter},
		zerolog.Nop(),
		Options{PoolSize: 4},
	)
}

func TestRunCycleQueuesAndAdvances(t *testing.T) {
	t.Parallel()

	adapter := newScriptedAdapter()
	adapter.pages[1] = []scriptedPage{
		{page: sources.Page{
			Stories: []sources.RawStory{
				rawStory("a", "https://example.org/a", "Story A", ts(9, 10)),
				rawStory("b", "https://example.org/b", "Story B", ts(10, 12)),
			},
			Next: "cursor-1",
		}},
		{page: sources.Page{
			Stories: []sources.RawStory{
				rawStory("c", "https://example.org/c", "Story C", ts(8, 9)),
			},
			Done: true,
		}},
	}

	stories := newFakeStoryStore()
	marks := newFakeWatermarks()
	jobs := queue.NewInProcessQueue(16)
	service := newTestService(stories, marks, jobs, adapter)

	cycle, err := service.RunCycle(context.Background(), "scripted", []projects.Project{serviceProject(1)})
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if cycle.TotalQueued() != 3 {
		t.Fatalf("queued %d stories, want 3", cycle.TotalQueued())
	}
	result := cycle.Projects[0]
	if result.Err != nil {
		t.Fatalf("project failed: %v", result.Err)
	}
	if result.Pages != 2 || result.Found != 3 {
		t.Fatalf("pages=%d found=%d, want 2/3", result.Pages, result.Found)
	}
	if !result.MaxPublishDate.Equal(*ts(10, 12)) {
		t.Fatalf("max publish date = %s, want story B's date", result.MaxPublishDate)
	}

	advances := marks.advances[watermarkKey(1, "scripted")]
	if len(advances) != 1 {
		t.Fatalf("watermark advanced %d times, want 1", len(advances))
	}
	if !advances[0].LastPublishDate.Equal(*ts(10, 12)) {
		t.Fatalf("watermark advanced to %s, want the max observed publish date", advances[0].LastPublishDate)
	}
	if advances[0].LastProcessedID != "cursor-1" {
		t.Fatalf("watermark cursor = %q, want cursor-1", advances[0].LastProcessedID)
	}

	job, ok, err := jobs.Dequeue(context.Background(), 0)
	if err != nil || !ok {
		t.Fatalf("expected a classification job, ok=%t err=%v", ok, err)
	}
	if job.ProjectID != 1 || job.ModelID != 7 || job.Threshold != 0.5 {
		t.Fatalf("job carries wrong project settings: %+v", job)
	}
	if len(job.Stories) != 2 {
		t.Fatalf("first job has %d stories, want page one's batch of 2", len(job.Stories))
	}
}

func TestRunCycleIdempotentRefetch(t *testing.T) {
	t.Parallel()

	page := sources.Page{
		Stories: []sources.RawStory{
			rawStory("a", "https://example.org/a", "Story A", ts(9, 10)),
			rawStory("b", "https://example.org/b", "Story B", ts(10, 12)),
		},
		Done: true,
	}

	adapter := newScriptedAdapter()
	adapter.pages[1] = []scriptedPage{{page: page}, {page: page}}

	stories := newFakeStoryStore()
	marks := newFakeWatermarks()
	jobs := queue.NewInProcessQueue(16)
	service := newTestService(stories, marks, jobs, adapter)

	first, err := service.RunCycle(context.Background(), "scripted", []projects.Project{serviceProject(1)})
	if err != nil {
		t.Fatalf("first RunCycle: %v", err)
	}
	if first.TotalQueued() != 2 {
		t.Fatalf("first run queued %d, want 2", first.TotalQueued())
	}

	second, err := service.RunCycle(context.Background(), "scripted", []projects.Project{serviceProject(1)})
	if err != nil {
		t.Fatalf("second RunCycle: %v", err)
	}
	if second.TotalQueued() != 0 {
		t.Fatalf("re-fetching the same page queued %d new stories, want 0", second.TotalQueued())
	}

	if len(stories.rows) != 2 {
		t.Fatalf("store has %d rows after re-fetch, want 2", len(stories.rows))
	}

	mark := marks.marks[watermarkKey(1, "scripted")]
	if !mark.LastPublishDate.Equal(*ts(10, 12)) {
		t.Fatalf("watermark moved to %s after re-fetch, want unchanged", mark.LastPublishDate)
	}

	// The duplicate-only second run must not queue a classification job.
	if _, ok, _ := jobs.Dequeue(context.Background(), 0); !ok {
		t.Fatal("first run should have queued a job")
	}
	if _, ok, _ := jobs.Dequeue(context.Background(), 0); ok {
		t.Fatal("second run queued a job for already-seen stories")
	}
}

func TestRunCycleIsolatesProjectFailures(t *testing.T) {
	t.Parallel()

	adapter := newScriptedAdapter()
	adapter.pages[1] = []scriptedPage{{page: sources.Page{
		Stories: []sources.RawStory{rawStory("a1", "https://example.org/p1", "P1", ts(9, 0))},
		Done:    true,
	}}}
	adapter.pages[2] = []scriptedPage{{err: errors.New("query rejected")}}
	adapter.pages[3] = []scriptedPage{{page: sources.Page{
		Stories: []sources.RawStory{rawStory("a3", "https://example.org/p3", "P3", ts(9, 0))},
		Done:    true,
	}}}

	stories := newFakeStoryStore()
	marks := newFakeWatermarks()
	service := newTestService(stories, marks, queue.NewInProcessQueue(16), adapter)

	cycle, err := service.RunCycle(context.Background(), "scripted", []projects.Project{
		serviceProject(1), serviceProject(2), serviceProject(3),
	})
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	failed := cycle.Failed()
	if len(failed) != 1 || failed[0].ProjectID != 2 {
		t.Fatalf("expected exactly project 2 to fail, got %+v", failed)
	}
	if cycle.TotalQueued() != 2 {
		t.Fatalf("healthy projects queued %d stories, want 2", cycle.TotalQueued())
	}
	if len(marks.advances[watermarkKey(2, "scripted")]) != 0 {
		t.Fatal("failed project must not advance its watermark")
	}
	if len(marks.advances[watermarkKey(1, "scripted")]) != 1 || len(marks.advances[watermarkKey(3, "scripted")]) != 1 {
		t.Fatal("healthy projects should advance their watermarks")
	}
}

func TestRunCycleTransientFirstPageLeavesWatermark(t *testing.T) {
	t.Parallel()

	adapter := newScriptedAdapter()
	adapter.pages[1] = []scriptedPage{{err: sources.Transient("scripted", errors.New("status 503"))}}

	marks := newFakeWatermarks()
	service := newTestService(newFakeStoryStore(), marks, queue.NewInProcessQueue(4), adapter)

	cycle, err := service.RunCycle(context.Background(), "scripted", []projects.Project{serviceProject(1)})
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if cycle.Projects[0].Err == nil {
		t.Fatal("transient failure before any page should surface as a project error")
	}
	if len(marks.advances[watermarkKey(1, "scripted")]) != 0 {
		t.Fatal("watermark must stay untouched when nothing was fetched")
	}
}

func TestRunCycleTransientAfterPartialProgress(t *testing.T) {
	t.Parallel()

	adapter := newScriptedAdapter()
	adapter.pages[1] = []scriptedPage{
		{page: sources.Page{
			Stories: []sources.RawStory{rawStory("a", "https://example.org/a", "A", ts(9, 10))},
			Next:    "cursor-1",
		}},
		{err: sources.Transient("scripted", errors.New("status 429"))},
	}

	marks := newFakeWatermarks()
	service := newTestService(newFakeStoryStore(), marks, queue.NewInProcessQueue(4), adapter)

	cycle, err := service.RunCycle(context.Background(), "scripted", []projects.Project{serviceProject(1)})
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	result := cycle.Projects[0]
	if result.Err != nil {
		t.Fatalf("partial progress should not fail the project: %v", result.Err)
	}
	if result.Queued != 1 {
		t.Fatalf("queued %d, want the one story fetched before the failure", result.Queued)
	}

	advances := marks.advances[watermarkKey(1, "scripted")]
	if len(advances) != 1 || !advances[0].LastPublishDate.Equal(*ts(9, 10)) {
		t.Fatalf("watermark should advance to the partial run's max publish date, got %+v", advances)
	}
}

func TestRunCycleResumesFromWatermark(t *testing.T) {
	globaltime.SetMockTime(time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC))
	defer globaltime.ResetTime()

	adapter := newScriptedAdapter()
	adapter.pages[1] = []scriptedPage{{page: sources.Page{Done: true}}}

	marks := newFakeWatermarks()
	marks.marks[watermarkKey(1, "scripted")] = db.Watermark{
		LastProcessedID: "900",
		LastPublishDate: time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
	}

	service := newTestService(newFakeStoryStore(), marks, queue.NewInProcessQueue(4), adapter)
	if _, err := service.RunCycle(context.Background(), "scripted", []projects.Project{serviceProject(1)}); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	windows := adapter.windows[1]
	if len(windows) != 1 {
		t.Fatalf("adapter saw %d windows, want 1", len(windows))
	}
	wantStart := time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC)
	if !windows[0].Start.Equal(wantStart) {
		t.Fatalf("window start = %s, want watermark minus overlap (%s)", windows[0].Start, wantStart)
	}
	if windows[0].ResumeID != "900" {
		t.Fatalf("window resume id = %q, want 900", windows[0].ResumeID)
	}
}

// narrowWindowAdapter simulates a source whose API only tolerates a
// short date window per query.
type narrowWindowAdapter struct {
	*scriptedAdapter
	days int
}

func (a *narrowWindowAdapter) MaxDayWindow() int { return a.days }

func TestRunCycleNarrowsWindowToAdapterLimit(t *testing.T) {
	globaltime.SetMockTime(time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC))
	defer globaltime.ResetTime()

	inner := newScriptedAdapter()
	inner.pages[1] = []scriptedPage{{page: sources.Page{Done: true}}}
	adapter := &narrowWindowAdapter{scriptedAdapter: inner, days: 5}

	service := NewService(
		newFakeStoryStore(), newFakeWatermarks(), queue.NewInProcessQueue(4),
		map[string]sources.Adapter{"scripted": adapter},
		zerolog.Nop(),
		Options{PoolSize: 4, MaxWindowDays: 30},
	)
	if _, err := service.RunCycle(context.Background(), "scripted", []projects.Project{serviceProject(1)}); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	windows := inner.windows[1]
	if len(windows) != 1 {
		t.Fatalf("adapter saw %d windows, want 1", len(windows))
	}
	wantStart := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	if !windows[0].Start.Equal(wantStart) {
		t.Fatalf("window start = %s, want the adapter's 5-day limit (%s)", windows[0].Start, wantStart)
	}
}

func TestRunCycleDoesNotPersistPageNumberCursors(t *testing.T) {
	t.Parallel()

	adapter := newScriptedAdapter()
	adapter.resumesByID = false
	adapter.pages[1] = []scriptedPage{
		{page: sources.Page{
			Stories: []sources.RawStory{rawStory("a", "https://example.org/a", "A", ts(9, 10))},
			Next:    "2",
		}},
		{page: sources.Page{Done: true}},
	}

	marks := newFakeWatermarks()
	service := newTestService(newFakeStoryStore(), marks, queue.NewInProcessQueue(4), adapter)

	if _, err := service.RunCycle(context.Background(), "scripted", []projects.Project{serviceProject(1)}); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	advances := marks.advances[watermarkKey(1, "scripted")]
	if len(advances) != 1 {
		t.Fatalf("watermark advanced %d times, want 1", len(advances))
	}
	if advances[0].LastProcessedID != "" {
		t.Fatalf("watermark cursor = %q, want empty for a paging-only cursor", advances[0].LastProcessedID)
	}
	if !advances[0].LastPublishDate.Equal(*ts(9, 10)) {
		t.Fatalf("watermark publish date = %s, want story A's date", advances[0].LastPublishDate)
	}
}

// stuckAdapter blocks every page fetch until its context is cancelled.
type stuckAdapter struct{}

func (stuckAdapter) Name() string { return "scripted" }

func (stuckAdapter) FetchPage(ctx context.Context, _ projects.Project, _ sources.Window, _ sources.Cursor) (sources.Page, error) {
	<-ctx.Done()
	return sources.Page{}, ctx.Err()
}

func TestRunCycleReturnsWhenCancelled(t *testing.T) {
	t.Parallel()

	var projectList []projects.Project
	for id := int64(1); id <= 6; id++ {
		projectList = append(projectList, serviceProject(id))
	}

	service := NewService(
		newFakeStoryStore(), newFakeWatermarks(), queue.NewInProcessQueue(4),
		map[string]sources.Adapter{"scripted": stuckAdapter{}},
		zerolog.Nop(),
		Options{PoolSize: 2},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan CycleResult, 1)
	go func() {
		cycle, err := service.RunCycle(ctx, "scripted", projectList)
		if err != nil {
			t.Errorf("RunCycle: %v", err)
		}
		done <- cycle
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case cycle := <-done:
		if len(cycle.Projects) > len(projectList) {
			t.Fatalf("cycle reported %d projects, more than were submitted", len(cycle.Projects))
		}
		for _, result := range cycle.Projects {
			if result.Err == nil {
				t.Fatalf("project %d finished without an error despite cancellation", result.ProjectID)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunCycle did not return after cancellation")
	}
}

func TestRunCycleUnknownSource(t *testing.T) {
	t.Parallel()

	service := NewService(newFakeStoryStore(), newFakeWatermarks(), queue.NewInProcessQueue(1), nil, zerolog.Nop(), Options{})
	if _, err := service.RunCycle(context.Background(), "nope", nil); err == nil {
		t.Fatal("unknown source should fail the cycle")
	}
}
