package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/counterdata-network/story-processor/internal/projects"
)

func mediaCloudProject() projects.Project {
	return projects.Project{
		ID:               1,
		SearchTerms:     "femicide OR “feminicidio”",
		Language:         "es",
		MediaCollections: []int64{34412234},
	}
}

func TestMediaCloudFetchPage(t *testing.T) {
	t.Parallel()

	var gotQuery, gotLastID, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotLastID = r.URL.Query().Get("last_processed_stories_id")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"stories": [
			{"processed_stories_id": 901, "stories_id": 11, "title": "A", "url": "https://example.org/a",
			 "language": "es", "publish_date": "2026-02-10 08:30:00", "media_id": 5, "media_name": "Example"},
			{"processed_stories_id": 905, "stories_id": 12, "title": "B", "url": "https://example.org/b",
			 "language": "es", "publish_date": "2026-02-11", "media_id": 5, "media_name": "Example"}
		]}`))
	}))
	defer server.Close()

	adapter := NewMediaCloud(server.URL, "token-123")
	window := Window{
		Start:    time.Date(2026, 2, 6, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC),
		ResumeID: "900",
	}

	page, err := adapter.FetchPage(context.Background(), mediaCloudProject(), window, "")
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}

	if gotAuth != "Token token-123" {
		t.Fatalf("authorization header = %q", gotAuth)
	}
	if gotLastID != "900" {
		t.Fatalf("resume id = %q, want the watermark's 900", gotLastID)
	}
	// Curly quotes in search terms must be straightened.
	if gotQuery != `(femicide OR "feminicidio") AND language:es` {
		t.Fatalf("query = %q", gotQuery)
	}

	if len(page.Stories) != 2 {
		t.Fatalf("got %d stories", len(page.Stories))
	}
	if page.Stories[0].SourceStoryID != "11" || page.Stories[0].MediaID != "5" {
		t.Fatalf("unexpected story: %+v", page.Stories[0])
	}
	if page.Stories[0].PublishedAt == nil || !page.Stories[0].PublishedAt.Equal(time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC)) {
		t.Fatalf("publish date = %v", page.Stories[0].PublishedAt)
	}
	if page.Next != "905" {
		t.Fatalf("cursor = %q, want max processed id 905", page.Next)
	}
	if !page.Done {
		t.Fatal("short page should mark the cursor done")
	}
}

func TestMediaCloudTransientStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	adapter := NewMediaCloud(server.URL, "token")
	_, err := adapter.FetchPage(context.Background(), mediaCloudProject(), Window{}, "")
	if !IsTransient(err) {
		t.Fatalf("status 503 should be transient, got %v", err)
	}
}

func TestMediaCloudPermanentStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	adapter := NewMediaCloud(server.URL, "bad-token")
	_, err := adapter.FetchPage(context.Background(), mediaCloudProject(), Window{}, "")
	if err == nil || IsTransient(err) {
		t.Fatalf("status 401 should be a permanent error, got %v", err)
	}
}
