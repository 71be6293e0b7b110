package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/counterdata-network/story-processor/internal/cli"
	"github.com/counterdata-network/story-processor/internal/db"
	"github.com/counterdata-network/story-processor/internal/pipeline"
	"github.com/counterdata-network/story-processor/internal/projects"
	"github.com/counterdata-network/story-processor/internal/queue"
	"github.com/counterdata-network/story-processor/internal/sources"
)

// runProcess fetches every configured source and classifies the queued
// jobs inline, without a broker.
func runProcess(args []string) int {
	fs := flag.NewFlagSet("process", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 2*time.Hour, "Command timeout")
	sourceList := fs.String("sources", "", "Comma-separated sources (default: all configured)")
	notifyFlag := fs.Bool("notify", true, "Send cycle summaries to Slack/email")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "process does not accept positional arguments")
		return 2
	}

	ctx, cancel, cfg, logger, pool, err := connectPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	adapters := buildAdapters(cfg, logger)
	names := selectSources(adapters, *sourceList)
	if len(names) == 0 {
		fmt.Fprintln(os.Stderr, "no configured sources matched --sources")
		return 2
	}

	loader := projects.NewLoader(cfg.ConfigFileURL, cfg.ConfigDir, logger)
	projectList, err := loader.Load(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("project list load failed")
		fmt.Fprintf(os.Stderr, "Failed to load projects: %v\n", err)
		return 1
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("classifier registry setup failed")
		fmt.Fprintf(os.Stderr, "Failed to build classifier registry: %v\n", err)
		return 1
	}

	jobs := queue.NewInProcessQueue(0)
	service := pipeline.NewService(
		db.NewStoryStore(pool),
		db.NewWatermarkStore(pool),
		jobs,
		adapters,
		logger,
		pipelineOptions(cfg),
	)
	consumer := newConsumer(cfg, pool, registry, jobs, logger)
	notifier := buildNotifier(cfg, logger)

	exitCode := 0
	for _, name := range names {
		cycle, err := service.RunCycle(ctx, name, projectList)
		if err != nil {
			logger.Error().Err(err).Str("source", name).Msg("fetch cycle failed")
			exitCode = 1
			continue
		}
		if len(cycle.Failed()) > 0 {
			exitCode = 1
		}
		if *notifyFlag {
			notifier.SendCycleSummary(ctx, cycleSummary(cycle))
		}

		stats, err := consumer.Drain(ctx)
		if err != nil {
			logger.Error().Err(err).Str("source", name).Msg("inline classification failed")
			exitCode = 1
			continue
		}
		logger.Info().
			Str("source", name).
			Int("scored", stats.Scored).
			Int("above", stats.Above).
			Int("posted", stats.Posted).
			Int("skipped", stats.Skipped).
			Msg("inline classification finished")
	}

	if buried := jobs.Dead(); len(buried) > 0 {
		logger.Error().Int("jobs", len(buried)).Msg("classification jobs were buried")
		exitCode = 1
	}
	return exitCode
}

func selectSources(adapters map[string]sources.Adapter, raw string) []string {
	// Stable order keeps run-once logs comparable between runs.
	ordered := []string{
		sources.SourceMediaCloud,
		sources.SourceNewsdata,
		sources.SourceWaybackMachine,
		sources.SourceGoogleAlerts,
	}

	requested := make(map[string]bool)
	if strings.TrimSpace(raw) != "" {
		for _, part := range strings.Split(raw, ",") {
			requested[strings.TrimSpace(strings.ToLower(part))] = true
		}
	}

	var names []string
	for _, name := range ordered {
		if _, configured := adapters[name]; !configured {
			continue
		}
		if len(requested) > 0 && !requested[name] {
			continue
		}
		names = append(names, name)
	}
	return names
}
