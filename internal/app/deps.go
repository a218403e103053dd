package app

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"horse.fit/curator/internal/config"
	"horse.fit/curator/internal/costs"
	"horse.fit/curator/internal/db"
	"horse.fit/curator/internal/discovery"
	"horse.fit/curator/internal/evaluate"
	"horse.fit/curator/internal/fetch"
)

func newTracker(cfg *config.Config, pool *db.Pool, logger zerolog.Logger) *costs.Tracker {
	return costs.NewTracker(pool, logger, costs.LLMRates{
		InputPerMTok:  cfg.LLMInputRatePerM,
		OutputPerMTok: cfg.LLMOutputRatePerM,
	}, map[string]float64{
		costs.ServiceSearch: cfg.SearchBudgetMonthly,
		costs.ServiceLLM:    cfg.LLMBudgetMonthly,
	})
}

func newFetcher(cfg *config.Config) *fetch.Fetcher {
	return fetch.New(fetch.Options{
		Timeout:     cfg.FetchTimeout,
		MaxAttempts: cfg.FetchMaxAttempts,
	})
}

// newDiscoveryService selects the map provider by configuration: the
// production mapping API or the local same-host crawler. Search is only
// available with the API provider.
func newDiscoveryService(cfg *config.Config, pool *db.Pool, logger zerolog.Logger, tracker *costs.Tracker) *discovery.Service {
	breaker := costs.NewBreaker("discovery", cfg.BreakerFailureThreshold, cfg.BreakerCooldown)

	var (
		mapper   discovery.MapClient
		searcher discovery.SearchClient
	)
	if strings.EqualFold(cfg.DiscoveryProvider, config.DiscoveryProviderAPI) {
		client := discovery.NewAPIClient(cfg.DiscoveryAPIBase, cfg.DiscoveryAPIKey, cfg.DiscoveryRateLimit, cfg.FetchTimeout)
		mapper = client
		searcher = client
	} else {
		mapper = discovery.NewCrawlMapClient(cfg.DiscoveryRateLimit, cfg.FetchTimeout)
	}

	return discovery.NewService(pool, logger, mapper, searcher, tracker, breaker)
}

func newEvaluateService(cfg *config.Config, pool *db.Pool, logger zerolog.Logger, tracker *costs.Tracker) (*evaluate.Service, error) {
	llm, err := newLLM(cfg)
	if err != nil {
		return nil, err
	}

	breaker := costs.NewBreaker("llm", cfg.BreakerFailureThreshold, cfg.BreakerCooldown)
	profiles := evaluate.NewProfileCache(cfg.OrgProfilesPath, cfg.OrgProfilesTTL)

	return evaluate.NewService(pool, logger, llm, tracker, breaker,
		newFetcher(cfg), profiles, cfg.EvalContentMaxChars), nil
}

// newLLM builds the evaluation model client. Credentials come from the
// environment (OPENAI_API_KEY), loaded with the rest of the .env file.
func newLLM(cfg *config.Config) (llms.Model, error) {
	llm, err := openai.New(openai.WithModel(cfg.LLMModel))
	if err != nil {
		return nil, fmt.Errorf("initialize llm client: %w", err)
	}
	return llm, nil
}
