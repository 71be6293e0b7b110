package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/araddon/dateparse"

	"github.com/counterdata-network/story-processor/internal/projects"
)

const (
	newsdataPageSize  = 100
	newsdataDayWindow = 2

	// The archive endpoint rate-limits aggressively.
	newsdataMinRequestGap = time.Second
)

// Newsdata pages the NewsData archive API with its nextPage token.
// Article text arrives inline, so no extraction round-trip is needed.
type Newsdata struct {
	baseURL string
	apiKey  string
	client  *http.Client

	mu          sync.Mutex
	lastRequest time.Time
	requestGap  time.Duration
}

func NewNewsdata(baseURL, apiKey string) *Newsdata {
	return &Newsdata{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		client:     &http.Client{Timeout: 60 * time.Second},
		requestGap: newsdataMinRequestGap,
	}
}

func (n *Newsdata) Name() string { return SourceNewsdata }

func (n *Newsdata) MaxDayWindow() int { return newsdataDayWindow }

type newsdataArticle struct {
	ArticleID string   `json:"article_id"`
	Title     string   `json:"title"`
	Link      string   `json:"link"`
	PubDate   string   `json:"pubDate"`
	SourceID  string   `json:"source_id"`
	SourceURL string   `json:"source_url"`
	Language  string   `json:"language"`
	Creator   []string `json:"creator"`
	Content   string   `json:"content"`
}

type newsdataResponse struct {
	Status   string            `json:"status"`
	Results  []newsdataArticle `json:"results"`
	NextPage string            `json:"nextPage"`
}

func (n *Newsdata) FetchPage(ctx context.Context, project projects.Project, window Window, cursor Cursor) (Page, error) {
	if err := n.throttle(ctx); err != nil {
		return Page{}, err
	}

	params := url.Values{}
	params.Set("apikey", n.apiKey)
	params.Set("q", straightenQuotes(project.SearchTerms))
	params.Set("language", project.Language)
	params.Set("from_date", window.Start.Format("2006-01-02"))
	params.Set("to_date", window.End.Format("2006-01-02"))
	params.Set("size", fmt.Sprintf("%d", newsdataPageSize))
	if project.NewsdataCountry != "" {
		params.Set("country", project.NewsdataCountry)
	}
	if cursor != "" {
		params.Set("page", string(cursor))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/archive?"+params.Encode(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("build newsdata request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return Page{}, Transient(SourceNewsdata, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024*1024))
	if err != nil {
		return Page{}, Transient(SourceNewsdata, err)
	}
	if transientStatus(resp.StatusCode) {
		return Page{}, Transient(SourceNewsdata, fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("newsdata: unexpected status %d", resp.StatusCode)
	}

	var decoded newsdataResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return Page{}, fmt.Errorf("newsdata: decode response: %w", err)
	}
	if decoded.Status != "success" {
		return Page{}, fmt.Errorf("newsdata: response status %q", decoded.Status)
	}

	page := Page{
		Next: Cursor(decoded.NextPage),
		Done: decoded.NextPage == "" || len(decoded.Results) == 0,
	}
	for _, article := range decoded.Results {
		raw := RawStory{
			SourceStoryID: article.ArticleID,
			URL:           article.Link,
			Title:         article.Title,
			Language:      article.Language,
			MediaName:     article.SourceID,
			MediaURL:      article.SourceURL,
			Authors:       strings.Join(article.Creator, ", "),
			Text:          article.Content,
		}
		if ts, err := dateparse.ParseAny(article.PubDate); err == nil {
			utc := ts.UTC()
			raw.PublishedAt = &utc
		}
		page.Stories = append(page.Stories, raw)
	}
	return page, nil
}

func (n *Newsdata) throttle(ctx context.Context) error {
	n.mu.Lock()
	wait := n.requestGap - time.Since(n.lastRequest)
	n.lastRequest = time.Now().Add(wait)
	n.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
