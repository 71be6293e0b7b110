package dedup

import (
	"testing"

	"github.com/counterdata-network/story-processor/internal/sources"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "lowercases host and strips fragment",
			in:   "HTTP://Example.ORG/News/Story#comments",
			want: "https://example.org/News/Story",
		},
		{
			name: "strips tracking params and sorts the rest",
			in:   "https://example.org/a?utm_source=x&b=2&a=1&fbclid=abc",
			want: "https://example.org/a?a=1&b=2",
		},
		{
			name: "drops default port and trailing slash",
			in:   "https://example.org:443/story/",
			want: "https://example.org/story",
		},
		{
			name: "keeps non-default port",
			in:   "http://example.org:8080/story",
			want: "https://example.org:8080/story",
		},
		{name: "empty input", in: "   ", want: ""},
		{name: "not a web URL", in: "mailto:x@example.org", want: ""},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := NormalizeURL(tc.in)
			if got != tc.want {
				t.Fatalf("NormalizeURL(%q) = %q, want %q", tc.in, got, tc.want)
			}
			if again := NormalizeURL(got); again != got {
				t.Fatalf("NormalizeURL is not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestFilterIntraBatch(t *testing.T) {
	t.Parallel()

	batch := []sources.RawStory{
		{SourceStoryID: "1", Title: "Same headline", MediaID: "10"},
		{SourceStoryID: "2", Title: "Same headline", MediaID: "10"},
		{SourceStoryID: "3", Title: "Same headline", MediaID: "11"},
		{SourceStoryID: "4", Title: "Different headline", MediaID: "10"},
	}

	kept := FilterIntraBatch(batch)
	if len(kept) != 3 {
		t.Fatalf("kept %d stories, want 3", len(kept))
	}
	if kept[0].SourceStoryID != "1" {
		t.Fatalf("first occurrence should win, got %s", kept[0].SourceStoryID)
	}
	if kept[1].SourceStoryID != "3" || kept[2].SourceStoryID != "4" {
		t.Fatalf("unexpected survivors: %s, %s", kept[1].SourceStoryID, kept[2].SourceStoryID)
	}
}

func TestFilterIntraBatchMediaNameFallback(t *testing.T) {
	t.Parallel()

	batch := []sources.RawStory{
		{SourceStoryID: "1", Title: "Headline", MediaName: "Example News"},
		{SourceStoryID: "2", Title: "Headline", MediaName: "Example News"},
	}

	if kept := FilterIntraBatch(batch); len(kept) != 1 {
		t.Fatalf("media name should group when id is missing, kept %d", len(kept))
	}
}

func TestFilterSeen(t *testing.T) {
	t.Parallel()

	seen := map[string]struct{}{
		"https://example.org/known": {},
	}
	batch := []sources.RawStory{
		{SourceStoryID: "1", URL: "https://example.org/known?utm_source=feed"},
		{SourceStoryID: "2", URL: "https://example.org/fresh"},
		{SourceStoryID: "3", URL: "https://example.org/fresh/"},
	}

	kept, dropped := FilterSeen(batch, seen)
	if dropped != 2 {
		t.Fatalf("dropped %d, want 2 (one persisted, one same-run duplicate)", dropped)
	}
	if len(kept) != 1 || kept[0].SourceStoryID != "2" {
		t.Fatalf("unexpected survivors: %+v", kept)
	}
	if _, ok := seen["https://example.org/fresh"]; !ok {
		t.Fatal("kept URLs must be added to the seen set")
	}
}
