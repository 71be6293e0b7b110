// Package dedup keeps each story to one row per project: URL
// normalization, an intra-batch pass, and a cross-run recency filter.
package dedup

import (
	"net/url"
	"sort"
	"strings"

	"github.com/counterdata-network/story-processor/internal/sources"
)

// Query parameters that only track clicks and never change the page.
var trackingQueryKeys = map[string]struct{}{
	"fbclid":       {},
	"gclid":        {},
	"mc_cid":       {},
	"mc_eid":       {},
	"utm_campaign": {},
	"utm_content":  {},
	"utm_medium":   {},
	"utm_source":   {},
	"utm_term":     {},
}

// NormalizeURL maps URL variants of the same article to one canonical
// string. It is deterministic and idempotent; an unparseable URL
// normalizes to "".
func NormalizeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return ""
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return ""
	}

	host := strings.ToLower(parsed.Hostname())
	if port := parsed.Port(); port != "" && port != "80" && port != "443" {
		host += ":" + port
	}

	path := strings.TrimRight(parsed.EscapedPath(), "/")

	query := parsed.Query()
	kept := make([]string, 0, len(query))
	for key := range query {
		if _, tracking := trackingQueryKeys[strings.ToLower(key)]; tracking {
			continue
		}
		if strings.HasPrefix(strings.ToLower(key), "utm_") {
			continue
		}
		kept = append(kept, key)
	}
	sort.Strings(kept)

	normalized := "https://" + host + path
	if len(kept) > 0 {
		pairs := make([]string, 0, len(kept))
		for _, key := range kept {
			values := query[key]
			sort.Strings(values)
			for _, value := range values {
				pairs = append(pairs, url.QueryEscape(key)+"="+url.QueryEscape(value))
			}
		}
		normalized += "?" + strings.Join(pairs, "&")
	}
	return normalized
}

// FilterIntraBatch collapses stories that share a (media identifier,
// title) pair within one batch. The first occurrence wins, so stable
// page ordering makes the result deterministic.
func FilterIntraBatch(stories []sources.RawStory) []sources.RawStory {
	type batchKey struct {
		media string
		title string
	}

	seen := make(map[batchKey]struct{}, len(stories))
	kept := make([]sources.RawStory, 0, len(stories))
	for _, story := range stories {
		key := batchKey{
			media: story.MediaIdentifier(),
			title: strings.TrimSpace(story.Title),
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, story)
	}
	return kept
}

// FilterSeen drops stories whose normalized URL is already in seen, and
// adds the URLs it keeps so later pages of the same run dedup against
// earlier ones. It returns the kept stories and the drop count.
func FilterSeen(stories []sources.RawStory, seen map[string]struct{}) ([]sources.RawStory, int) {
	kept := make([]sources.RawStory, 0, len(stories))
	dropped := 0
	for _, story := range stories {
		normalized := NormalizeURL(story.URL)
		if normalized != "" {
			if _, dup := seen[normalized]; dup {
				dropped++
				continue
			}
			seen[normalized] = struct{}{}
		}
		kept = append(kept, story)
	}
	return kept, dropped
}
