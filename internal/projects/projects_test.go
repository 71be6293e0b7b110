package projects

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

const projectListJSON = `[
  {"id": 1, "title": "first", "search_terms": "\"gender\" AND violence", "language": "en", "language_model_id": 7, "min_confidence": 0.75},
  {"id": 2, "title": "second", "search_terms": "feminicidio", "language": "es", "language_model_id": 8, "min_confidence": 0.8}
]`

func TestLoaderFetchesAndCaches(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(projectListJSON))
	}))
	defer server.Close()

	dir := t.TempDir()
	loader := NewLoader(server.URL, dir, zerolog.Nop())

	projects, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(projects) != 2 {
		t.Fatalf("got %d projects, want 2", len(projects))
	}
	if projects[0].LanguageModelID != 7 || projects[1].MinConfidence != 0.8 {
		t.Fatalf("unexpected parse result: %+v", projects)
	}

	if _, err := os.Stat(filepath.Join(dir, cacheFilename)); err != nil {
		t.Fatalf("cache file missing: %v", err)
	}
}

func TestLoaderFallsBackToCache(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, cacheFilename), []byte(projectListJSON), 0o644); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	loader := NewLoader(server.URL, dir, zerolog.Nop())
	projects, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("Load should fall back to cache: %v", err)
	}
	if len(projects) != 2 {
		t.Fatalf("got %d cached projects, want 2", len(projects))
	}
}

func TestLoaderFailsWithoutCache(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	loader := NewLoader(server.URL, t.TempDir(), zerolog.Nop())
	if _, err := loader.Load(context.Background()); err == nil {
		t.Fatal("no registry and no cache should fail")
	}
}
