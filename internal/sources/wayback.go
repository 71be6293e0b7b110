package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/counterdata-network/story-processor/internal/projects"
)

const (
	waybackPageSize = 1000

	// Captures take a few days to be indexed, so the window sits a bit
	// behind the clock.
	waybackDayOffset = 4
	waybackDayWindow = 4
)

// Wayback queries the web-archive search service over a project's domain
// list. Each hit carries a URL for its pre-extracted article text.
type Wayback struct {
	baseURL string
	client  *http.Client
}

func NewWayback(baseURL string) *Wayback {
	return &Wayback{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 90 * time.Second},
	}
}

func (w *Wayback) Name() string { return SourceWaybackMachine }

func (w *Wayback) MaxDayWindow() int { return waybackDayOffset + waybackDayWindow }

type waybackHit struct {
	ID              string `json:"id"`
	URL             string `json:"url"`
	Title           string `json:"title"`
	Language        string `json:"language"`
	Domain          string `json:"domain"`
	PublicationDate string `json:"publication_date"`
	ArticleURL      string `json:"article_url"`
}

type waybackResponse struct {
	Hits []waybackHit `json:"hits"`
}

func (w *Wayback) FetchPage(ctx context.Context, project projects.Project, window Window, cursor Cursor) (Page, error) {
	pageNumber := 0
	if cursor != "" {
		parsed, err := strconv.Atoi(string(cursor))
		if err != nil {
			return Page{}, fmt.Errorf("wayback: bad cursor %q: %w", cursor, err)
		}
		pageNumber = parsed
	}

	query := buildDomainQuery(project.SearchTerms, project.Language, project.Domains)

	params := url.Values{}
	params.Set("q", query)
	params.Set("publication_date_from", window.Start.Format("2006-01-02"))
	params.Set("publication_date_to", window.End.Format("2006-01-02"))
	params.Set("page_size", strconv.Itoa(waybackPageSize))
	params.Set("page", strconv.Itoa(pageNumber))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/search/result?"+params.Encode(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("build wayback request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return Page{}, Transient(SourceWaybackMachine, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 128*1024*1024))
	if err != nil {
		return Page{}, Transient(SourceWaybackMachine, err)
	}
	if transientStatus(resp.StatusCode) {
		return Page{}, Transient(SourceWaybackMachine, fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("wayback: unexpected status %d", resp.StatusCode)
	}

	var decoded waybackResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return Page{}, fmt.Errorf("wayback: decode response: %w", err)
	}

	page := Page{
		Next: Cursor(strconv.Itoa(pageNumber + 1)),
		Done: len(decoded.Hits) < waybackPageSize,
	}
	for _, hit := range decoded.Hits {
		raw := RawStory{
			SourceStoryID: hit.ID,
			URL:           hit.URL,
			Title:         hit.Title,
			Language:      hit.Language,
			MediaName:     hit.Domain,
			ContentURL:    hit.ArticleURL,
		}
		if ts, err := dateparse.ParseAny(hit.PublicationDate); err == nil {
			utc := ts.UTC()
			raw.PublishedAt = &utc
		}
		page.Stories = append(page.Stories, raw)
	}
	return page, nil
}
