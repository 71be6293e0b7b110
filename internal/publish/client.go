// Package publish posts qualifying stories to the main server.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Error is a publication rejection from the main server. Stories left
// unposted stay above-threshold and get retried on a later cycle.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("publication rejected with status %d: %s", e.StatusCode, e.Body)
}

// StoryPayload is the published story document. source_story_id is the
// server-side idempotency key, so re-posting after a crash is safe.
type StoryPayload struct {
	ProjectID     int64      `json:"project_id"`
	ModelID       int64      `json:"model_id"`
	Source        string     `json:"source"`
	SourceStoryID string     `json:"source_story_id"`
	URL           string     `json:"url"`
	Title         string     `json:"title"`
	Language      string     `json:"language,omitempty"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
	Model1Score   *float64   `json:"model_1_score,omitempty"`
	Model2Score   *float64   `json:"model_2_score,omitempty"`
	ModelScore    float64    `json:"model_score"`
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewClient(baseURL, apiKey string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

func (c *Client) PostStory(ctx context.Context, payload StoryPayload) error {
	if c.baseURL == "" {
		return fmt.Errorf("MAIN_SERVER_URL is not set")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal story payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/stories", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post story %s: %w", payload.SourceStoryID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &Error{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(responseBody))}
}
