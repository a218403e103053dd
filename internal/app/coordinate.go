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
	"horse.fit/curator/internal/coordinator"
	"horse.fit/curator/internal/db"
	"horse.fit/curator/internal/fetch"
	"horse.fit/curator/internal/logging"
	"horse.fit/curator/internal/queue"
	"horse.fit/curator/internal/review"
)

func runCoordinate(args []string) int {
	fs := flag.NewFlagSet("coordinate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 15*time.Minute, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
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
		logger.Error().Err(err).Msg("coordinate command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	coord := coordinator.New(pool, logger, newFetcher(cfg), fetch.ContentHash,
		queue.New(pool, logger), review.NewService(pool, logger), coordinator.Options{
			Parallel:               cfg.CoordinatorParallel,
			MaxConsecutiveFailures: cfg.MaxConsecutiveFails,
			PromoteApproved:        cfg.PromoteApproved,
			PromoteLookback:        cfg.PromoteLookback,
		})

	report, err := coord.Run(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("coordination run failed")
		fmt.Fprintf(os.Stderr, "Coordination failed: %v\n", err)
		return 1
	}

	fmt.Printf("coordinate processed=%d enqueued=%d skipped=%d failed=%d promoted=%d\n",
		report.Processed, report.Enqueued, report.Skipped, report.Failed, report.Promotion.Created)
	if report.SystematicFailure {
		fmt.Fprintln(os.Stderr, "All sources failed this run, check upstream availability")
		return 1
	}
	return 0
}
