package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/counterdata-network/story-processor/internal/classify"
	"github.com/counterdata-network/story-processor/internal/cli"
)

func runModels(args []string) int {
	fs := flag.NewFlagSet("models", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	refresh := fs.Bool("refresh", false, "Fetch the latest model list before printing")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "models does not accept positional arguments")
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	cfg, logger, err := bootstrap(envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	var models []classify.ModelConfig
	if *refresh {
		if cfg.ModelListURL == "" {
			fmt.Fprintln(os.Stderr, "--refresh requires MODEL_LIST_URL")
			return 2
		}
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()

		models, err = classify.FetchModelList(ctx, nil, cfg.ModelListURL, cfg.ConfigDir, logger)
		if err != nil {
			logger.Error().Err(err).Msg("model list refresh failed")
			fmt.Fprintf(os.Stderr, "Failed to refresh model list: %v\n", err)
			return 1
		}
	} else {
		models, err = classify.LoadModelList(cfg.ConfigDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load model list: %v\n", err)
			return 1
		}
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(models); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	rows := make([][]string, 0, len(models))
	for _, model := range models {
		rows = append(rows, []string{
			strconv.FormatInt(model.ID, 10),
			model.Name,
			strconv.Itoa(model.Version),
			model.Language,
			strconv.FormatBool(model.Chained),
			model.Model1 + "/" + model.Vectorizer1,
			model.Model2 + "/" + model.Vectorizer2,
		})
	}
	if err := writeTable([]string{"id", "name", "version", "language", "chained", "stage1", "stage2"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}
	return 0
}
