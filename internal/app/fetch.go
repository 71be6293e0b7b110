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
)

func runFetch(args []string) int {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 45*time.Minute, "Command timeout")
	sourceName := fs.String("source", "", "Source to fetch (media-cloud, newsdata, wayback-machine, google-alerts)")
	projectID := fs.Int64("project", 0, "Fetch only this project id (0 = all)")
	notifyFlag := fs.Bool("notify", true, "Send the cycle summary to Slack/email")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "fetch does not accept positional arguments")
		return 2
	}
	if strings.TrimSpace(*sourceName) == "" {
		fmt.Fprintln(os.Stderr, "--source is required")
		return 2
	}

	ctx, cancel, cfg, logger, pool, err := connectPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	jobs, closeQueue, err := newQueue(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("fetch needs a broker for classification jobs")
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer closeQueue()

	loader := projects.NewLoader(cfg.ConfigFileURL, cfg.ConfigDir, logger)
	projectList, err := loader.Load(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("project list load failed")
		fmt.Fprintf(os.Stderr, "Failed to load projects: %v\n", err)
		return 1
	}
	if *projectID > 0 {
		projectList = filterProject(projectList, *projectID)
		if len(projectList) == 0 {
			fmt.Fprintf(os.Stderr, "project %d is not in the project list\n", *projectID)
			return 2
		}
	}

	service := pipeline.NewService(
		db.NewStoryStore(pool),
		db.NewWatermarkStore(pool),
		jobs,
		buildAdapters(cfg, logger),
		logger,
		pipelineOptions(cfg),
	)

	cycle, err := service.RunCycle(ctx, strings.TrimSpace(*sourceName), projectList)
	if err != nil {
		logger.Error().Err(err).Msg("fetch cycle failed")
		fmt.Fprintf(os.Stderr, "Fetch cycle failed: %v\n", err)
		return 1
	}

	if *notifyFlag {
		buildNotifier(cfg, logger).SendCycleSummary(ctx, cycleSummary(cycle))
	}

	if err := printJSON(cycle); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
		return 1
	}
	if len(cycle.Failed()) > 0 {
		return 1
	}
	return 0
}

func filterProject(projectList []projects.Project, projectID int64) []projects.Project {
	filtered := make([]projects.Project, 0, 1)
	for _, project := range projectList {
		if project.ID == projectID {
			filtered = append(filtered, project)
		}
	}
	return filtered
}
