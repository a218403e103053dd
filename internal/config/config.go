package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	DiscoveryProviderAPI   = "api"
	DiscoveryProviderCrawl = "crawl"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"CURATOR_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"CURATOR_DB_MAX_CONNS" default:"8"`

	// Discovery upstream. "api" talks to the hosted map/search service,
	// "crawl" resolves map discovery by crawling the seed domain locally.
	DiscoveryProvider  string  `envconfig:"DISCOVERY_PROVIDER" default:"crawl"`
	DiscoveryAPIBase   string  `envconfig:"DISCOVERY_API_BASE" default:"https://api.firecrawl.dev"`
	DiscoveryAPIKey    string  `envconfig:"DISCOVERY_API_KEY" default:""`
	DiscoveryRateLimit float64 `envconfig:"DISCOVERY_RATE_LIMIT" default:"2"`

	LLMModel          string  `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`
	LLMInputRatePerM  float64 `envconfig:"LLM_INPUT_RATE_PER_MTOK" default:"0.15"`
	LLMOutputRatePerM float64 `envconfig:"LLM_OUTPUT_RATE_PER_MTOK" default:"0.60"`

	SearchBudgetMonthly float64 `envconfig:"SEARCH_BUDGET_MONTHLY" default:"1000"`
	LLMBudgetMonthly    float64 `envconfig:"LLM_BUDGET_MONTHLY" default:"50"`

	BreakerFailureThreshold int           `envconfig:"BREAKER_FAILURE_THRESHOLD" default:"5"`
	BreakerCooldown         time.Duration `envconfig:"BREAKER_COOLDOWN" default:"60s"`

	FetchTimeout     time.Duration `envconfig:"FETCH_TIMEOUT" default:"20s"`
	FetchMaxAttempts int           `envconfig:"FETCH_MAX_ATTEMPTS" default:"3"`

	EvalContentMaxChars int `envconfig:"EVAL_CONTENT_MAX_CHARS" default:"12000"`

	PromoteApproved      bool          `envconfig:"PROMOTE_APPROVED" default:"false"`
	PromoteLookback      time.Duration `envconfig:"PROMOTE_LOOKBACK" default:"48h"`
	CoordinatorParallel  int           `envconfig:"COORDINATOR_PARALLEL" default:"4"`
	MaxConsecutiveFails  int           `envconfig:"MAX_CONSECUTIVE_FAILS" default:"3"`
	IngestDedupThreshold float64       `envconfig:"INGEST_DEDUP_THRESHOLD" default:"0.85"`

	OrgProfilesPath string        `envconfig:"ORG_PROFILES_PATH" default:""`
	OrgProfilesTTL  time.Duration `envconfig:"ORG_PROFILES_TTL" default:"10m"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("CURATOR_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("CURATOR_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("CURATOR_DB_MIN_CONNS (%d) cannot exceed CURATOR_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	switch strings.ToLower(strings.TrimSpace(c.DiscoveryProvider)) {
	case DiscoveryProviderAPI:
		if strings.TrimSpace(c.DiscoveryAPIKey) == "" {
			return fmt.Errorf("DISCOVERY_API_KEY is required when DISCOVERY_PROVIDER=api")
		}
	case DiscoveryProviderCrawl:
	default:
		return fmt.Errorf("DISCOVERY_PROVIDER must be %q or %q", DiscoveryProviderAPI, DiscoveryProviderCrawl)
	}
	if c.DiscoveryRateLimit <= 0 {
		return fmt.Errorf("DISCOVERY_RATE_LIMIT must be > 0")
	}
	if c.LLMInputRatePerM < 0 || c.LLMOutputRatePerM < 0 {
		return fmt.Errorf("LLM token rates must be >= 0")
	}
	if c.BreakerFailureThreshold < 1 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be >= 1")
	}
	if c.FetchMaxAttempts < 1 {
		return fmt.Errorf("FETCH_MAX_ATTEMPTS must be >= 1")
	}
	if c.EvalContentMaxChars < 1 {
		return fmt.Errorf("EVAL_CONTENT_MAX_CHARS must be >= 1")
	}
	if c.CoordinatorParallel < 1 {
		return fmt.Errorf("COORDINATOR_PARALLEL must be >= 1")
	}
	if c.MaxConsecutiveFails < 1 {
		return fmt.Errorf("MAX_CONSECUTIVE_FAILS must be >= 1")
	}
	if c.IngestDedupThreshold <= 0 || c.IngestDedupThreshold > 1 {
		return fmt.Errorf("INGEST_DEDUP_THRESHOLD must be in (0, 1]")
	}
	return nil
}
