// Package projects loads the per-project search definitions that drive
// every fetch cycle.
package projects

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

const cacheFilename = "projects.json"

// Project is one saved search definition from the registry.
type Project struct {
	ID               int64    `json:"id"`
	Title            string   `json:"title"`
	SearchTerms      string   `json:"search_terms"`
	Language         string   `json:"language"`
	LanguageModelID  int64    `json:"language_model_id"`
	MinConfidence    float64  `json:"min_confidence"`
	MediaCollections []int64  `json:"media_collections,omitempty"`
	Domains          []string `json:"domains,omitempty"`
	NewsdataCountry  string   `json:"newsdata_country,omitempty"`
	RSSURL           string   `json:"rss_url,omitempty"`
}

// Loader fetches the project list and keeps a last-good copy on disk so
// a registry outage does not stall a cycle.
type Loader struct {
	url       string
	cachePath string
	client    *http.Client
	logger    zerolog.Logger
}

func NewLoader(url, configDir string, logger zerolog.Logger) *Loader {
	return &Loader{
		url:       url,
		cachePath: filepath.Join(configDir, cacheFilename),
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    logger,
	}
}

// Load fetches the current project list, falling back to the cached copy
// when the registry is unreachable.
func (l *Loader) Load(ctx context.Context) ([]Project, error) {
	if l.url == "" {
		return l.loadCached(fmt.Errorf("CONFIG_FILE_URL is not set"))
	}

	payload, err := l.fetch(ctx)
	if err != nil {
		l.logger.Warn().Err(err).Msg("project list fetch failed, trying cached copy")
		return l.loadCached(err)
	}

	projects, err := parseProjects(payload)
	if err != nil {
		l.logger.Warn().Err(err).Msg("project list unparseable, trying cached copy")
		return l.loadCached(err)
	}

	if err := l.writeCache(payload); err != nil {
		l.logger.Warn().Err(err).Msg("failed to cache project list")
	}
	return projects, nil
}

func (l *Loader) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build project list request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch project list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch project list: unexpected status %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 16*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read project list response: %w", err)
	}
	return payload, nil
}

func (l *Loader) loadCached(cause error) ([]Project, error) {
	payload, err := os.ReadFile(l.cachePath)
	if err != nil {
		return nil, fmt.Errorf("project list unavailable (%v) and no cached copy at %s: %w", cause, l.cachePath, err)
	}

	projects, err := parseProjects(payload)
	if err != nil {
		return nil, fmt.Errorf("cached project list at %s is invalid: %w", l.cachePath, err)
	}

	l.logger.Info().Int("projects", len(projects)).Str("path", l.cachePath).Msg("using cached project list")
	return projects, nil
}

func (l *Loader) writeCache(payload []byte) error {
	if err := os.MkdirAll(filepath.Dir(l.cachePath), 0o755); err != nil {
		return err
	}
	tmp := l.cachePath + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, l.cachePath)
}

func parseProjects(payload []byte) ([]Project, error) {
	var projects []Project
	if err := json.Unmarshal(payload, &projects); err != nil {
		return nil, fmt.Errorf("unmarshal project list: %w", err)
	}
	if len(projects) == 0 {
		return nil, fmt.Errorf("project list is empty")
	}
	for _, project := range projects {
		if project.ID <= 0 {
			return nil, fmt.Errorf("project with missing id in project list")
		}
	}
	return projects, nil
}
