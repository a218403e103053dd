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

func runReview(args []string) int {
	fs := flag.NewFlagSet("review", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	id := fs.String("id", "", "Discovery ID to review")
	action := fs.String("action", "", "Review action: approve or reject")
	reviewer := fs.String("reviewer", "", "Name of the reviewer")
	reason := fs.String("reason", "", "Rejection reason (required for reject)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if strings.TrimSpace(*id) == "" {
		fmt.Fprintln(os.Stderr, "--id is required")
		return 2
	}
	switch *action {
	case "approve":
	case "reject":
		if strings.TrimSpace(*reason) == "" {
			fmt.Fprintln(os.Stderr, "--reason is required for reject")
			return 2
		}
	default:
		fmt.Fprintf(os.Stderr, "--action must be approve or reject, got %q\n", *action)
		return 2
	}
	if strings.TrimSpace(*reviewer) == "" {
		fmt.Fprintln(os.Stderr, "--reviewer is required")
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
		logger.Error().Err(err).Msg("review command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	svc := review.NewService(pool, logger)
	switch *action {
	case "approve":
		err = svc.Approve(ctx, *id, *reviewer)
	case "reject":
		err = svc.Reject(ctx, *id, *reviewer, *reason)
	}
	if err != nil {
		logger.Error().Err(err).Str("discovery_id", *id).Str("action", *action).Msg("review failed")
		fmt.Fprintf(os.Stderr, "Review failed: %v\n", err)
		return 1
	}

	fmt.Printf("review id=%s action=%s ok\n", *id, *action)
	return 0
}
