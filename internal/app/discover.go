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
)

func runDiscover(args []string) int {
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 2*time.Minute, "Command timeout")
	method := fs.String("method", "map", "Discovery method: map or search")
	domain := fs.String("domain", "", "Seed domain for map discovery")
	query := fs.String("query", "", "Query for search discovery")
	domainList := fs.String("domains", "", "Comma-separated domain allow-list for search")
	limit := fs.Int("limit", 100, "Maximum results to request")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be > 0")
		return 2
	}
	switch *method {
	case "map":
		if strings.TrimSpace(*domain) == "" {
			fmt.Fprintln(os.Stderr, "--domain is required for map discovery")
			return 2
		}
	case "search":
		if strings.TrimSpace(*query) == "" {
			fmt.Fprintln(os.Stderr, "--query is required for search discovery")
			return 2
		}
	default:
		fmt.Fprintf(os.Stderr, "--method must be map or search, got %q\n", *method)
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
		logger.Error().Err(err).Msg("discover command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	tracker := newTracker(cfg, pool, logger)
	svc := newDiscoveryService(cfg, pool, logger, tracker)

	var result struct {
		RunID    int64
		Found    int
		Inserted int
	}
	switch *method {
	case "map":
		run, runErr := svc.RunMap(ctx, *domain, *limit)
		if runErr != nil {
			logger.Error().Err(runErr).Str("domain", *domain).Msg("map discovery failed")
			fmt.Fprintf(os.Stderr, "Discovery failed: %v\n", runErr)
			return 1
		}
		result.RunID, result.Found, result.Inserted = run.RunID, run.Found, run.Inserted
	case "search":
		var domains []string
		for _, d := range strings.Split(*domainList, ",") {
			if trimmed := strings.TrimSpace(d); trimmed != "" {
				domains = append(domains, trimmed)
			}
		}
		run, runErr := svc.RunSearch(ctx, *query, *limit, domains)
		if runErr != nil {
			logger.Error().Err(runErr).Str("query", *query).Msg("search discovery failed")
			fmt.Fprintf(os.Stderr, "Discovery failed: %v\n", runErr)
			return 1
		}
		result.RunID, result.Found, result.Inserted = run.RunID, run.Found, run.Inserted
	}

	fmt.Printf("discover method=%s run=%d found=%d inserted=%d\n", *method, result.RunID, result.Found, result.Inserted)
	return 0
}
