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
	"horse.fit/curator/internal/costs"
	"horse.fit/curator/internal/db"
	"horse.fit/curator/internal/logging"
)

func runBudget(args []string) int {
	fs := flag.NewFlagSet("budget", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	service := fs.String("service", "", "Limit usage report to one service: search or llm")
	period := fs.String("period", costs.PeriodMonthly, "Usage period: daily, weekly or monthly")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	switch *service {
	case "", costs.ServiceSearch, costs.ServiceLLM:
	default:
		fmt.Fprintf(os.Stderr, "--service must be search or llm, got %q\n", *service)
		return 2
	}
	switch *period {
	case costs.PeriodDaily, costs.PeriodWeekly, costs.PeriodMonthly:
	default:
		fmt.Fprintf(os.Stderr, "--period must be daily, weekly or monthly, got %q\n", *period)
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
		logger.Error().Err(err).Msg("budget command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	tracker := newTracker(cfg, pool, logger)
	services := []string{costs.ServiceSearch, costs.ServiceLLM}
	if *service != "" {
		services = []string{*service}
	}

	for _, svc := range services {
		stats, statsErr := tracker.GetUsageStats(ctx, svc, *period)
		if statsErr != nil {
			logger.Error().Err(statsErr).Str("service", svc).Msg("failed to read usage stats")
			fmt.Fprintf(os.Stderr, "Failed to read usage stats: %v\n", statsErr)
			return 1
		}
		fmt.Printf("usage service=%s period=%s calls=%d input_tokens=%d output_tokens=%d cost_usd=%.4f\n",
			svc, *period, stats.CallCount, stats.InputTokens, stats.OutputTokens, stats.CostUSD)
	}

	statuses, err := tracker.CheckAllBudgets(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to check budgets")
		fmt.Fprintf(os.Stderr, "Failed to check budgets: %v\n", err)
		return 1
	}
	exceeded := false
	for _, status := range statuses {
		fmt.Printf("budget service=%s usage=%.2f budget=%.2f pct=%.1f within=%t\n",
			status.Service, status.Usage, status.Budget, status.Percentage, status.WithinBudget)
		if !status.WithinBudget {
			exceeded = true
		}
	}
	if exceeded {
		return 1
	}
	return 0
}
