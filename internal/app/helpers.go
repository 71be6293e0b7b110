package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"github.com/counterdata-network/story-processor/internal/cli"
	"github.com/counterdata-network/story-processor/internal/classify"
	"github.com/counterdata-network/story-processor/internal/config"
	"github.com/counterdata-network/story-processor/internal/db"
	"github.com/counterdata-network/story-processor/internal/logging"
	"github.com/counterdata-network/story-processor/internal/notify"
	"github.com/counterdata-network/story-processor/internal/pipeline"
	"github.com/counterdata-network/story-processor/internal/queue"
	"github.com/counterdata-network/story-processor/internal/sources"
	"github.com/counterdata-network/story-processor/internal/textfetch"
)

const (
	outputFormatTable = "table"
	outputFormatJSON  = "json"
)

// bootstrap loads the .env file, configuration, and logger shared by
// every command.
func bootstrap(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Logger{}, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, zerolog.Logger{}, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

func connectPool(timeout time.Duration, envLoader *cli.EnvLoader) (context.Context, context.CancelFunc, *config.Config, zerolog.Logger, *db.Pool, error) {
	cfg, logger, err := bootstrap(envLoader)
	if err != nil {
		return nil, nil, nil, zerolog.Logger{}, nil, err
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		cancel()
		return nil, nil, nil, zerolog.Logger{}, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return ctx, cancel, cfg, logger, pool, nil
}

// buildAdapters wires every source whose credentials are configured.
func buildAdapters(cfg *config.Config, logger zerolog.Logger) map[string]sources.Adapter {
	adapters := make(map[string]sources.Adapter)
	if strings.TrimSpace(cfg.MediaCloudAPIKey) != "" {
		adapters[sources.SourceMediaCloud] = sources.NewMediaCloud(cfg.MediaCloudBaseURL, cfg.MediaCloudAPIKey)
	}
	if strings.TrimSpace(cfg.NewsdataAPIKey) != "" {
		adapters[sources.SourceNewsdata] = sources.NewNewsdata(cfg.NewsdataBaseURL, cfg.NewsdataAPIKey)
	}
	if strings.TrimSpace(cfg.WaybackSearchURL) != "" {
		adapters[sources.SourceWaybackMachine] = sources.NewWayback(cfg.WaybackSearchURL)
	}
	adapters[sources.SourceGoogleAlerts] = sources.NewGoogleAlerts(textfetch.NewClient(logger), logger)
	return adapters
}

func buildRegistry(cfg *config.Config) (*classify.Registry, error) {
	models, err := classify.LoadModelList(cfg.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("load model list: %w", err)
	}
	factory := classify.NewHTTPStageFactory(cfg.ScoringEndpoint, nil)
	return classify.NewRegistry(models, factory), nil
}

func buildNotifier(cfg *config.Config, logger zerolog.Logger) *notify.Notifier {
	return notify.New(cfg.SlackWebhookURL, notify.EmailSettings{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.NotifyEmailFrom,
		To:       cfg.NotifyEmailToList(),
	}, logger)
}

func pipelineOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		PoolSize:             cfg.PoolSize,
		LookbackDays:         cfg.DedupLookbackDays,
		MaxStoriesPerProject: cfg.MaxStoriesPerProject,
	}
}

func cycleSummary(cycle pipeline.CycleResult) notify.CycleSummary {
	summary := notify.CycleSummary{
		Source:        cycle.Source,
		Projects:      len(cycle.Projects),
		StoriesFound:  cycle.TotalFound(),
		StoriesQueued: cycle.TotalQueued(),
		Duration:      cycle.Duration,
	}
	for _, failed := range cycle.Failed() {
		summary.Failures = append(summary.Failures, notify.ProjectFailure{
			ProjectID: failed.ProjectID,
			Title:     failed.Title,
			Reason:    failed.Err.Error(),
		})
	}
	return summary
}

func parseOutputFormat(raw, defaultFormat string) (string, error) {
	format := strings.TrimSpace(strings.ToLower(raw))
	if format == "" {
		format = strings.TrimSpace(strings.ToLower(defaultFormat))
	}
	switch format {
	case outputFormatTable, outputFormatJSON:
		return format, nil
	default:
		return "", fmt.Errorf("--format must be table or json")
	}
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func writeTable(headers []string, rows [][]string) error {
	writer := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	if _, err := fmt.Fprintln(writer, strings.Join(headers, "\t")); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(writer, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return writer.Flush()
}

func newQueue(cfg *config.Config) (queue.Queue, func(), error) {
	if strings.TrimSpace(cfg.BrokerURL) == "" {
		return nil, nil, fmt.Errorf("BROKER_URL is not set")
	}
	broker, err := queue.NewRedisQueue(cfg.BrokerURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to broker: %w", err)
	}
	return broker, func() { _ = broker.Close() }, nil
}
