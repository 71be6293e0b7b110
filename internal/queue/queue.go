// Package queue carries classification jobs from fetch cycles to the
// scoring consumer. Delivery is at-least-once; consumers must be
// idempotent.
package queue

import (
	"context"
	"time"
)

// Story is the slice of a story a classification job needs.
type Story struct {
	ProjectID     int64      `json:"project_id"`
	Source        string     `json:"source"`
	SourceStoryID string     `json:"source_story_id"`
	Title         string     `json:"title"`
	URL           string     `json:"url"`
	Language      string     `json:"language,omitempty"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
	Text          string     `json:"text,omitempty"`
	ContentURL    string     `json:"content_url,omitempty"`
}

// Job is one batch of stories to classify for a project.
type Job struct {
	ID         string    `json:"id"`
	ProjectID  int64     `json:"project_id"`
	ModelID    int64     `json:"model_id"`
	Threshold  float64   `json:"threshold"`
	Source     string    `json:"source"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Stories    []Story   `json:"stories"`
}

// Queue is the broker contract. Dequeue blocks up to wait and returns
// ok=false when nothing arrived. Bury parks a job that should not be
// retried.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context, wait time.Duration) (Job, bool, error)
	Bury(ctx context.Context, job Job) error
}
