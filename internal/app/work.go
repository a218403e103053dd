package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/curator/internal/chunkstore"
	"horse.fit/curator/internal/cli"
	"horse.fit/curator/internal/config"
	"horse.fit/curator/internal/db"
	"horse.fit/curator/internal/logging"
	"horse.fit/curator/internal/queue"
	"horse.fit/curator/internal/worker"
)

func runWork(args []string) int {
	fs := flag.NewFlagSet("work", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Minute, "Command timeout")

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
		logger.Error().Err(err).Msg("work command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	w := worker.New(pool, logger, queue.New(pool, logger), chunkstore.New(pool, logger),
		newFetcher(cfg), worker.DefaultSplitter(), worker.Options{
			DedupThreshold: cfg.IngestDedupThreshold,
			MaxAttempts:    cfg.FetchMaxAttempts,
		})

	report, err := w.Run(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("worker run failed")
		fmt.Fprintf(os.Stderr, "Worker failed: %v\n", err)
		return 1
	}

	fmt.Printf("work claimed=%d completed=%d failed=%d\n", report.Claimed, report.Completed, report.Failed)
	return 0
}
