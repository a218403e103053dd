package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/curator/internal/cli"
	"horse.fit/curator/internal/config"
	"horse.fit/curator/internal/db"
	"horse.fit/curator/internal/logging"
	"horse.fit/curator/internal/review"
)

func runPromote(args []string) int {
	fs := flag.NewFlagSet("promote", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 2*time.Minute, "Command timeout")
	idList := fs.String("ids", "", "Comma-separated discovery IDs to promote (empty promotes all approved)")

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
		logger.Error().Err(err).Msg("promote command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	var ids []string
	for _, id := range strings.Split(*idList, ",") {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}

	report, err := review.NewService(pool, logger).SendToSources(ctx, ids)
	if err != nil {
		logger.Error().Err(err).Msg("promotion failed")
		fmt.Fprintf(os.Stderr, "Promotion failed: %v\n", err)
		return 1
	}

	fmt.Printf("promote created=%d alreadyLinked=%d duplicateUrl=%d notApproved=%d failed=%d\n",
		report.Created, report.AlreadyLinked, report.DuplicateURL, report.NotApproved, report.Failed)
	return 0
}
