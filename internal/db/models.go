package db

import (
	"time"
)

// Story is one discovered story for one project. The (project_id, source,
// source_story_id) key makes re-fetches idempotent: a story is never
// represented twice for the same project.
type Story struct {
	ID             int64      `gorm:"column:id;primaryKey;autoIncrement"`
	ProjectID      int64      `gorm:"column:project_id;type:bigint;not null;uniqueIndex:uq_stories_project_source_story,priority:1"`
	Source         string     `gorm:"column:source;type:text;not null;uniqueIndex:uq_stories_project_source_story,priority:2"`
	SourceStoryID  string     `gorm:"column:source_story_id;type:text;not null;uniqueIndex:uq_stories_project_source_story,priority:3"`
	ModelID        int64      `gorm:"column:model_id;type:bigint;not null;default:0"`
	Title          string     `gorm:"column:title;type:text;not null;default:''"`
	URL            string     `gorm:"column:url;type:text;not null;default:''"`
	NormalizedURL  string     `gorm:"column:normalized_url;type:text;not null;default:'';index:ix_stories_normalized_url"`
	MediaID        *string    `gorm:"column:media_id;type:text"`
	MediaName      *string    `gorm:"column:media_name;type:text"`
	MediaURL       *string    `gorm:"column:media_url;type:text"`
	Language       string     `gorm:"column:language;type:text;not null;default:''"`
	PublishedAt    *time.Time `gorm:"column:published_at;type:timestamptz"`
	Model1Score    *float64   `gorm:"column:model_1_score;type:double precision"`
	Model2Score    *float64   `gorm:"column:model_2_score;type:double precision"`
	ModelScore     *float64   `gorm:"column:model_score;type:double precision"`
	AboveThreshold *bool      `gorm:"column:above_threshold"`
	QueuedAt       *time.Time `gorm:"column:queued_at;type:timestamptz"`
	ProcessedAt    *time.Time `gorm:"column:processed_at;type:timestamptz"`
	PostedAt       *time.Time `gorm:"column:posted_at;type:timestamptz"`
	CreatedAt      time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Story) TableName() string { return "stories" }

// ProjectHistory is the resumable fetch watermark, one row per
// (project, source). last_publish_date only ever moves forward.
type ProjectHistory struct {
	ProjectID       int64      `gorm:"column:project_id;type:bigint;primaryKey"`
	Source          string     `gorm:"column:source;type:text;primaryKey"`
	LastProcessedID string     `gorm:"column:last_processed_id;type:text;not null;default:''"`
	LastPublishDate *time.Time `gorm:"column:last_publish_date;type:timestamptz"`
	LastURL         *string    `gorm:"column:last_url;type:text"`
	CreatedAt       time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (ProjectHistory) TableName() string { return "project_history" }

func autoMigrateModels() []any {
	return []any{
		&Story{},
		&ProjectHistory{},
	}
}
