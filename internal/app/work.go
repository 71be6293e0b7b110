package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/counterdata-network/story-processor/internal/cli"
	"github.com/counterdata-network/story-processor/internal/config"
	"github.com/counterdata-network/story-processor/internal/db"
	"github.com/counterdata-network/story-processor/internal/pipeline"
	"github.com/counterdata-network/story-processor/internal/publish"
	"github.com/counterdata-network/story-processor/internal/queue"
	"github.com/counterdata-network/story-processor/internal/textfetch"
)

func runWork(args []string) int {
	fs := flag.NewFlagSet("work", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "work does not accept positional arguments")
		return 2
	}

	cfg, logger, err := bootstrap(envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	dbCtx, dbCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dbCancel()

	pool, err := db.NewPool(dbCtx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("work failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	jobs, closeQueue, err := newQueue(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("work needs a broker")
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer closeQueue()

	registry, err := buildRegistry(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("classifier registry setup failed")
		fmt.Fprintf(os.Stderr, "Failed to build classifier registry: %v\n", err)
		return 1
	}

	consumer := newConsumer(cfg, pool, registry, jobs, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		cancel()
	}()

	logger.Info().Msg("classification worker started")
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
		return 1
	}
	logger.Info().Msg("classification worker stopped")
	return 0
}

func newConsumer(cfg *config.Config, pool *db.Pool, registry pipeline.ClassifierRegistry, jobs queue.Queue, logger zerolog.Logger) *pipeline.Consumer {
	return pipeline.NewConsumer(
		db.NewStoryStore(pool),
		registry,
		publish.NewClient(cfg.MainServerURL, cfg.MainServerAPIKey, logger),
		textfetch.NewClient(logger),
		jobs,
		logger,
		cfg.MaxQueueAttempts,
	)
}
