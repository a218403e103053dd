package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/curator/internal/cli"
	"horse.fit/curator/internal/config"
	"horse.fit/curator/internal/db"
	"horse.fit/curator/internal/evaluate"
	"horse.fit/curator/internal/logging"
)

func runEvaluate(args []string) int {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")
	stage := fs.String("stage", "all", "Evaluation stage: metadata, content or all")
	limit := fs.Int("limit", 50, "Maximum discoveries to evaluate per stage")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	switch *stage {
	case "metadata", "content", "all":
	default:
		fmt.Fprintf(os.Stderr, "--stage must be metadata, content or all, got %q\n", *stage)
		return 2
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be > 0")
		return 2
	}

	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("evaluate command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	tracker := newTracker(cfg, pool, logger)
	svc, err := newEvaluateService(cfg, pool, logger, tracker)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build evaluation service")
		fmt.Fprintf(os.Stderr, "Failed to build evaluation service: %v\n", err)
		return 1
	}

	var total evaluate.Report
	if *stage == "metadata" || *stage == "all" {
		report, stageErr := svc.EvaluatePendingMetadata(ctx, *limit)
		total.Evaluated += report.Evaluated
		total.Advanced += report.Advanced
		total.Failed += report.Failed
		if stageErr != nil {
			logger.Error().Err(stageErr).Msg("metadata evaluation pass aborted")
			fmt.Fprintf(os.Stderr, "Metadata evaluation aborted: %v\n", stageErr)
			return 1
		}
	}
	if *stage == "content" || *stage == "all" {
		report, stageErr := svc.EvaluatePendingContent(ctx, *limit)
		total.Evaluated += report.Evaluated
		total.Advanced += report.Advanced
		total.Failed += report.Failed
		if stageErr != nil {
			logger.Error().Err(stageErr).Msg("content evaluation pass aborted")
			fmt.Fprintf(os.Stderr, "Content evaluation aborted: %v\n", stageErr)
			return 1
		}
	}

	fmt.Printf("evaluate stage=%s evaluated=%d advanced=%d failed=%d\n", *stage, total.Evaluated, total.Advanced, total.Failed)
	return 0
}
