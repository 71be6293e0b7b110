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
	// Media Cloud performs poorly with large pages.
	mediaCloudPageSize = 150

	mediaCloudDayWindow = 5
)

// MediaCloud pages through the Media Cloud story-list API, resuming from
// the last processed story id recorded in the watermark.
type MediaCloud struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewMediaCloud(baseURL, apiKey string) *MediaCloud {
	return &MediaCloud{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (m *MediaCloud) Name() string { return SourceMediaCloud }

// MaxDayWindow bounds how far back a fetch window may reach.
func (m *MediaCloud) MaxDayWindow() int { return mediaCloudDayWindow }

// ResumesByID reports that the cursor is a durable processed-story id
// the next run can resume from.
func (m *MediaCloud) ResumesByID() bool { return true }

type mediaCloudStory struct {
	ProcessedStoriesID int64  `json:"processed_stories_id"`
	StoriesID          int64  `json:"stories_id"`
	Title              string `json:"title"`
	URL                string `json:"url"`
	Language           string `json:"language"`
	PublishDate        string `json:"publish_date"`
	MediaID            int64  `json:"media_id"`
	MediaName          string `json:"media_name"`
	MediaURL           string `json:"media_url"`
}

type mediaCloudResponse struct {
	Stories []mediaCloudStory `json:"stories"`
}

func (m *MediaCloud) FetchPage(ctx context.Context, project projects.Project, window Window, cursor Cursor) (Page, error) {
	lastProcessedID := string(cursor)
	if lastProcessedID == "" {
		lastProcessedID = window.ResumeID
	}
	if lastProcessedID == "" {
		lastProcessedID = "0"
	}

	query := fmt.Sprintf("(%s) AND language:%s", straightenQuotes(project.SearchTerms), project.Language)

	params := url.Values{}
	params.Set("q", query)
	params.Set("start_date", window.Start.Format("2006-01-02"))
	params.Set("end_date", window.End.Format("2006-01-02"))
	params.Set("last_processed_stories_id", lastProcessedID)
	params.Set("rows", strconv.Itoa(mediaCloudPageSize))
	for _, collection := range project.MediaCollections {
		params.Add("collections", strconv.FormatInt(collection, 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/stories/list?"+params.Encode(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("build media cloud request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Token "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return Page{}, Transient(SourceMediaCloud, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024*1024))
	if err != nil {
		return Page{}, Transient(SourceMediaCloud, err)
	}
	if transientStatus(resp.StatusCode) {
		return Page{}, Transient(SourceMediaCloud, fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("media cloud: unexpected status %d", resp.StatusCode)
	}

	var decoded mediaCloudResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return Page{}, fmt.Errorf("media cloud: decode response: %w", err)
	}

	page := Page{Done: len(decoded.Stories) < mediaCloudPageSize}
	maxProcessedID := int64(0)
	for _, story := range decoded.Stories {
		raw := RawStory{
			SourceStoryID: strconv.FormatInt(story.StoriesID, 10),
			URL:           story.URL,
			Title:         story.Title,
			Language:      story.Language,
			MediaID:       strconv.FormatInt(story.MediaID, 10),
			MediaName:     story.MediaName,
			MediaURL:      story.MediaURL,
		}
		if ts, err := dateparse.ParseAny(story.PublishDate); err == nil {
			utc := ts.UTC()
			raw.PublishedAt = &utc
		}
		page.Stories = append(page.Stories, raw)
		if story.ProcessedStoriesID > maxProcessedID {
			maxProcessedID = story.ProcessedStoriesID
		}
	}
	if maxProcessedID > 0 {
		page.Next = Cursor(strconv.FormatInt(maxProcessedID, 10))
	}
	return page, nil
}
