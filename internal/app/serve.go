package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"horse.fit/curator/internal/chunkstore"
	"horse.fit/curator/internal/cli"
	"horse.fit/curator/internal/config"
	"horse.fit/curator/internal/coordinator"
	"horse.fit/curator/internal/db"
	"horse.fit/curator/internal/fetch"
	"horse.fit/curator/internal/httpapi"
	"horse.fit/curator/internal/logging"
	"horse.fit/curator/internal/queue"
	"horse.fit/curator/internal/review"
	"horse.fit/curator/internal/sources"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	host := fs.String("host", "0.0.0.0", "Listen host")
	port := fs.Int("port", 8090, "Listen port")

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("serve command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	jobs := queue.New(pool, logger)
	reviewer := review.NewService(pool, logger)
	tracker := newTracker(cfg, pool, logger)
	coord := coordinator.New(pool, logger, newFetcher(cfg), fetch.ContentHash, jobs, reviewer, coordinator.Options{
		Parallel:               cfg.CoordinatorParallel,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFails,
		PromoteApproved:        cfg.PromoteApproved,
		PromoteLookback:        cfg.PromoteLookback,
	})
	catalog := sources.NewOrchestrator(pool, logger, coord)
	chunks := chunkstore.New(pool, logger)

	server := httpapi.NewServer(pool, logger, reviewer, catalog, coord, tracker, jobs, chunks, httpapi.Options{
		Host: *host,
		Port: *port,
	})
	if err := server.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("admin server exited with error")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}
	return 0
}
