package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"SP_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"SP_DB_MAX_CONNS" default:"8"`

	// BrokerURL points at the Redis instance backing the classification
	// queue. Empty means queue-backed commands refuse to start; run-once
	// mode works without it.
	BrokerURL string `envconfig:"BROKER_URL" default:""`

	// ConfigFileURL serves the project list JSON. The last good copy is
	// cached under ConfigDir so a registry outage does not stall a cycle.
	ConfigFileURL string `envconfig:"CONFIG_FILE_URL" default:""`
	ConfigDir     string `envconfig:"SP_CONFIG_DIR" default:"config"`

	ModelListURL    string `envconfig:"MODEL_LIST_URL" default:""`
	ScoringEndpoint string `envconfig:"SP_SCORING_ENDPOINT" default:"http://127.0.0.1:8935"`

	MainServerURL    string `envconfig:"MAIN_SERVER_URL" default:""`
	MainServerAPIKey string `envconfig:"MAIN_SERVER_API_KEY" default:""`

	MediaCloudBaseURL string `envconfig:"MC_BASE_URL" default:"https://search.mediacloud.org/api"`
	MediaCloudAPIKey  string `envconfig:"MC_API_TOKEN" default:""`
	NewsdataBaseURL   string `envconfig:"NEWSDATA_BASE_URL" default:"https://newsdata.io/api/1"`
	NewsdataAPIKey    string `envconfig:"NEWSDATA_API_TOKEN" default:""`
	WaybackSearchURL  string `envconfig:"WAYBACK_SEARCH_URL" default:"http://localhost:8000/v1"`

	PoolSize             int `envconfig:"SP_POOL_SIZE" default:"8"`
	DedupLookbackDays    int `envconfig:"SP_DEDUP_LOOKBACK_DAYS" default:"14"`
	MaxStoriesPerProject int `envconfig:"SP_MAX_STORIES_PER_PROJECT" default:"5000"`
	MaxQueueAttempts     int `envconfig:"SP_MAX_QUEUE_ATTEMPTS" default:"3"`

	SlackWebhookURL string `envconfig:"SLACK_WEBHOOK_URL" default:""`
	SMTPHost        string `envconfig:"SMTP_HOST" default:""`
	SMTPPort        int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUser        string `envconfig:"SMTP_USER" default:""`
	SMTPPassword    string `envconfig:"SMTP_PASSWORD" default:""`
	NotifyEmailFrom string `envconfig:"NOTIFY_EMAIL_FROM" default:""`
	NotifyEmailTo   string `envconfig:"NOTIFY_EMAIL_TO" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("SP_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("SP_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("SP_DB_MIN_CONNS (%d) cannot exceed SP_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.PoolSize < 4 || c.PoolSize > 16 {
		return fmt.Errorf("SP_POOL_SIZE must be between 4 and 16, got %d", c.PoolSize)
	}
	if c.DedupLookbackDays < 1 {
		return fmt.Errorf("SP_DEDUP_LOOKBACK_DAYS must be >= 1")
	}
	if c.MaxStoriesPerProject < 1 {
		return fmt.Errorf("SP_MAX_STORIES_PER_PROJECT must be >= 1")
	}
	if c.MaxQueueAttempts < 1 {
		return fmt.Errorf("SP_MAX_QUEUE_ATTEMPTS must be >= 1")
	}
	if strings.TrimSpace(c.ConfigDir) == "" {
		return fmt.Errorf("SP_CONFIG_DIR is required")
	}
	return nil
}

// NotifyEmailToList splits the comma-separated recipient list.
func (c *Config) NotifyEmailToList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.NotifyEmailTo, ",")
	recipients := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		addr := strings.TrimSpace(part)
		if addr == "" {
			continue
		}
		if _, exists := seen[addr]; exists {
			continue
		}
		seen[addr] = struct{}{}
		recipients = append(recipients, addr)
	}
	return recipients
}
