package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/counterdata-network/story-processor/internal/cli"
	"github.com/counterdata-network/story-processor/internal/queue"
)

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Second, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "health does not accept positional arguments")
		return 2
	}

	ctx, cancel, cfg, logger, pool, err := connectPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	fmt.Println("database: ok")

	if strings.TrimSpace(cfg.BrokerURL) != "" {
		broker, err := queue.NewRedisQueue(cfg.BrokerURL)
		if err != nil {
			logger.Error().Err(err).Msg("broker connection failed")
			fmt.Fprintf(os.Stderr, "broker: %v\n", err)
			return 1
		}
		defer broker.Close()
		if err := broker.Ping(ctx); err != nil {
			logger.Error().Err(err).Msg("broker ping failed")
			fmt.Fprintf(os.Stderr, "broker: %v\n", err)
			return 1
		}
		fmt.Println("broker: ok")
	} else {
		fmt.Println("broker: not configured")
	}

	return 0
}
