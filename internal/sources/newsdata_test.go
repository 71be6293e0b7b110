package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/counterdata-network/story-processor/internal/projects"
)

func testProject() projects.Project {
	return projects.Project{
		ID:              42,
		SearchTerms:     `"gender violence"`,
		Language:        "en",
		LanguageModelID: 7,
		MinConfidence:   0.75,
	}
}

func TestNewsdataPagesWithToken(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("apikey") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Query().Get("page") {
		case "":
			fmt.Fprint(w, `{
				"status": "success",
				"results": [
					{"article_id": "a1", "title": "first", "link": "https://example.org/1", "pubDate": "2026-02-10 09:00:00", "source_id": "example", "language": "en", "content": "body one"},
					{"article_id": "a2", "title": "second", "link": "https://example.org/2", "pubDate": "2026-02-10 10:00:00", "source_id": "example", "language": "en", "content": "body two"}
				],
				"nextPage": "token-2"
			}`)
		case "token-2":
			fmt.Fprint(w, `{"status": "success", "results": [], "nextPage": ""}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer server.Close()

	adapter := NewNewsdata(server.URL, "test-key")
	adapter.requestGap = 0

	window := Window{
		Start: time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC),
	}

	first, err := adapter.FetchPage(context.Background(), testProject(), window, "")
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(first.Stories) != 2 {
		t.Fatalf("first page has %d stories, want 2", len(first.Stories))
	}
	if first.Done {
		t.Fatal("first page should not be done while a next token exists")
	}
	if first.Next != "token-2" {
		t.Fatalf("first page cursor = %q, want token-2", first.Next)
	}
	if first.Stories[0].Text != "body one" {
		t.Fatalf("inline content not carried over: %+v", first.Stories[0])
	}
	if first.Stories[1].PublishedAt == nil || first.Stories[1].PublishedAt.Hour() != 10 {
		t.Fatalf("publish date not parsed: %+v", first.Stories[1].PublishedAt)
	}

	second, err := adapter.FetchPage(context.Background(), testProject(), window, first.Next)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if !second.Done || len(second.Stories) != 0 {
		t.Fatalf("second page should be an empty terminal page, got %+v", second)
	}
}

func TestNewsdataServerErrorIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	adapter := NewNewsdata(server.URL, "test-key")
	adapter.requestGap = 0

	_, err := adapter.FetchPage(context.Background(), testProject(), Window{End: time.Now()}, "")
	if !IsTransient(err) {
		t.Fatalf("5xx should be transient, got %v", err)
	}

	var transient *TransientError
	if !errors.As(err, &transient) || transient.Source != SourceNewsdata {
		t.Fatalf("transient error should carry the source name, got %v", err)
	}
}

func TestNewsdataBadRequestIsPermanent(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	adapter := NewNewsdata(server.URL, "test-key")
	adapter.requestGap = 0

	_, err := adapter.FetchPage(context.Background(), testProject(), Window{End: time.Now()}, "")
	if err == nil || IsTransient(err) {
		t.Fatalf("4xx should be a permanent error, got %v", err)
	}
}
