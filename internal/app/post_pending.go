package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/counterdata-network/story-processor/internal/cli"
	"github.com/counterdata-network/story-processor/internal/db"
	"github.com/counterdata-network/story-processor/internal/pipeline"
	"github.com/counterdata-network/story-processor/internal/publish"
	"github.com/counterdata-network/story-processor/internal/queue"
)

// runPostPending retries publication for stories that scored above
// threshold but were never posted, e.g. after a main-server outage.
func runPostPending(args []string) int {
	fs := flag.NewFlagSet("post-pending", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")
	limit := fs.Int("limit", 500, "Maximum stories to retry")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "post-pending does not accept positional arguments")
		return 2
	}
	if *limit < 1 {
		fmt.Fprintln(os.Stderr, "--limit must be >= 1")
		return 2
	}

	ctx, cancel, cfg, logger, pool, err := connectPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	consumer := pipeline.NewConsumer(
		db.NewStoryStore(pool),
		nil,
		publish.NewClient(cfg.MainServerURL, cfg.MainServerAPIKey, logger),
		nil,
		queue.NewInProcessQueue(1),
		logger,
		cfg.MaxQueueAttempts,
	)

	posted, err := consumer.PostPending(ctx, *limit)
	if err != nil {
		logger.Error().Err(err).Msg("post-pending failed")
		fmt.Fprintf(os.Stderr, "Failed to post pending stories: %v\n", err)
		return 1
	}

	fmt.Printf("posted %d pending stories\n", posted)
	return 0
}
