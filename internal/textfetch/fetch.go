// Package textfetch resolves story text the providers do not hand over
// inline: pre-extracted content documents and raw article pages.
package textfetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "codeberg.org/readeck/go-readability/v2"
	"github.com/rs/zerolog"
)

const (
	defaultTimeout   = 12 * time.Second
	defaultBodyLimit = 2 * 1024 * 1024

	defaultUserAgent = "story-processor/1.0 (+https://github.com/counterdata-network/story-processor)"
)

type Client struct {
	httpClient *http.Client
	userAgent  string
	bodyLimit  int64
	logger     zerolog.Logger
}

func NewClient(logger zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		userAgent:  defaultUserAgent,
		bodyLimit:  defaultBodyLimit,
		logger:     logger,
	}
}

type extractedDocument struct {
	Snippet string `json:"snippet"`
	Text    string `json:"text"`
}

// ExtractedText fetches a pre-extracted content document and returns its
// article text. Used for Wayback hits, whose article_url serves JSON.
func (c *Client) ExtractedText(ctx context.Context, contentURL string) (string, error) {
	payload, _, err := c.get(ctx, contentURL, "application/json")
	if err != nil {
		return "", err
	}

	var doc extractedDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return "", fmt.Errorf("decode extracted content from %s: %w", contentURL, err)
	}
	if doc.Snippet != "" {
		return doc.Snippet, nil
	}
	return doc.Text, nil
}

// ReadableText downloads an article page and extracts its readable body.
func (c *Client) ReadableText(ctx context.Context, pageURL string) (string, error) {
	payload, finalURL, err := c.get(ctx, pageURL, "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")
	if err != nil {
		return "", err
	}

	article, err := readability.FromReader(bytes.NewReader(payload), finalURL)
	if err != nil {
		return "", fmt.Errorf("readability parse %s: %w", pageURL, err)
	}

	var text strings.Builder
	if err := article.RenderText(&text); err != nil {
		return "", fmt.Errorf("render readable text for %s: %w", pageURL, err)
	}
	return strings.TrimSpace(text.String()), nil
}

func (c *Client) get(ctx context.Context, rawURL, accept string) ([]byte, *url.URL, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return nil, nil, fmt.Errorf("fetch URL is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, trimmed, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request for %s: %w", trimmed, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch %s: %w", trimmed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("fetch %s: unexpected status %d", trimmed, resp.StatusCode)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, c.bodyLimit))
	if err != nil {
		return nil, nil, fmt.Errorf("read body of %s: %w", trimmed, err)
	}
	return payload, resp.Request.URL, nil
}
