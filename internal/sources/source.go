// Package sources defines the paging contract for story providers and
// the concrete Media Cloud, NewsData, Wayback Machine, and Google Alerts
// adapters.
package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/counterdata-network/story-processor/internal/projects"
)

// Source names, used as watermark keys and story source labels.
const (
	SourceMediaCloud     = "media-cloud"
	SourceNewsdata       = "newsdata"
	SourceWaybackMachine = "wayback-machine"
	SourceGoogleAlerts   = "google-alerts"
)

// RawStory is a provider-shaped story before dedup and persistence.
type RawStory struct {
	SourceStoryID string
	URL           string
	Title         string
	PublishedAt   *time.Time
	Language      string
	MediaID       string
	MediaName     string
	MediaURL      string
	Authors       string
	Text          string
	// ContentURL points at pre-extracted article text, when the
	// provider offers one (Wayback Machine does).
	ContentURL string
}

// MediaIdentifier is the value intra-batch dedup groups on: the media id
// when the provider assigns one, otherwise the media name.
func (s RawStory) MediaIdentifier() string {
	if s.MediaID != "" {
		return s.MediaID
	}
	return s.MediaName
}

// Window bounds one project fetch. ResumeID carries the watermark's last
// processed id for adapters that page by provider-side story id.
type Window struct {
	Start    time.Time
	End      time.Time
	ResumeID string
}

// Cursor is an opaque adapter paging token. Empty means first page.
type Cursor string

// Page is one stable-ordered chunk of fetch results. Done means the
// adapter has nothing further for this window.
type Page struct {
	Stories []RawStory
	Next    Cursor
	Done    bool
}

// Adapter fetches one page of stories for a project. Implementations
// return stable ordering for a fixed window and cursor, and wrap
// retryable failures in TransientError.
type Adapter interface {
	Name() string
	FetchPage(ctx context.Context, project projects.Project, window Window, cursor Cursor) (Page, error)
}

// TransientError marks a provider failure worth retrying on the next
// run: rate limits, 5xx responses, timeouts. Anything else means the
// request itself is wrong and a retry cannot help.
type TransientError struct {
	Source string
	Err    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient source failure: %v", e.Source, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientError for the named source.
func Transient(source string, err error) error {
	return &TransientError{Source: source, Err: err}
}

func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// transientStatus reports whether an HTTP status is worth retrying.
func transientStatus(status int) bool {
	return status == 429 || status >= 500
}
