package publish

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestPostStorySendsPayloadAndKey(t *testing.T) {
	t.Parallel()

	var got StoryPayload
	var apiKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/stories" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		apiKey = r.Header.Get("X-Api-Key")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", zerolog.Nop())
	payload := StoryPayload{
		ProjectID:     1,
		ModelID:       7,
		Source:        "media-cloud",
		SourceStoryID: "12345",
		URL:           "https://example.org/a",
		Title:         "Story A",
		ModelScore:    0.72,
	}
	if err := client.PostStory(context.Background(), payload); err != nil {
		t.Fatalf("PostStory: %v", err)
	}
	if apiKey != "secret" {
		t.Fatalf("api key header = %q", apiKey)
	}
	if got.SourceStoryID != "12345" || got.ModelScore != 0.72 {
		t.Fatalf("server received %+v", got)
	}
}

func TestPostStoryRejectionIsPublicationError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte("duplicate story"))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", zerolog.Nop())
	err := client.PostStory(context.Background(), StoryPayload{SourceStoryID: "1"})

	var pubErr *Error
	if !errors.As(err, &pubErr) {
		t.Fatalf("err = %v, want *publish.Error", err)
	}
	if pubErr.StatusCode != http.StatusUnprocessableEntity || pubErr.Body != "duplicate story" {
		t.Fatalf("unexpected rejection: %+v", pubErr)
	}
}

func TestPostStoryRequiresBaseURL(t *testing.T) {
	t.Parallel()

	client := NewClient("", "", zerolog.Nop())
	if err := client.PostStory(context.Background(), StoryPayload{}); err == nil {
		t.Fatal("expected an error without MAIN_SERVER_URL")
	}
}
