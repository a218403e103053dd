package costs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/curator/internal/db"
	"horse.fit/curator/internal/globaltime"
)

// ErrBudgetExceeded marks a call skipped because the monthly budget for its
// service is exhausted. Callers treat it as a skip, not an upstream failure.
var ErrBudgetExceeded = errors.New("monthly budget exceeded")

const (
	ServiceSearch = "search"
	ServiceLLM    = "llm"

	PeriodDaily   = "daily"
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"
)

// LLMRates are per-million-token prices, supplied by configuration.
type LLMRates struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// BudgetStatus reports one service's monthly usage against its budget.
type BudgetStatus struct {
	Service      string  `json:"service"`
	Period       string  `json:"period"`
	Usage        float64 `json:"usage"`
	Budget       float64 `json:"budget"`
	Percentage   float64 `json:"percentage"`
	WithinBudget bool    `json:"within_budget"`
}

// UsageStats is one counter bucket read back for reporting.
type UsageStats struct {
	Service      string    `json:"service"`
	Period       string    `json:"period"`
	BucketDate   string    `json:"bucket_date"`
	CallCount    int64     `json:"call_count"`
	SearchCount  int64     `json:"search_count"`
	MapCount     int64     `json:"map_count"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Tracker maintains rolling daily/weekly/monthly usage buckets per service
// and evaluates budget thresholds against the monthly bucket.
type Tracker struct {
	pool    *db.Pool
	logger  zerolog.Logger
	rates   LLMRates
	budgets map[string]float64
}

func NewTracker(pool *db.Pool, logger zerolog.Logger, rates LLMRates, budgets map[string]float64) *Tracker {
	if budgets == nil {
		budgets = map[string]float64{}
	}
	return &Tracker{
		pool:    pool,
		logger:  logger,
		rates:   rates,
		budgets: budgets,
	}
}

// LLMCost prices one call as inputTokens/1e6*inputRate + outputTokens/1e6*outputRate.
func (t *Tracker) LLMCost(inputTokens, outputTokens int64) float64 {
	if t == nil {
		return 0
	}
	return float64(inputTokens)/1e6*t.rates.InputPerMTok +
		float64(outputTokens)/1e6*t.rates.OutputPerMTok
}

// RecordSearchCall increments the search-call counters for all three buckets.
func (t *Tracker) RecordSearchCall(ctx context.Context) error {
	return t.record(ctx, ServiceSearch, increment{searchCount: 1})
}

// RecordMapCall increments the map-call counters for all three buckets.
func (t *Tracker) RecordMapCall(ctx context.Context) error {
	return t.record(ctx, ServiceSearch, increment{mapCount: 1})
}

// RecordLLMCall increments token counters and cost for all three buckets.
func (t *Tracker) RecordLLMCall(ctx context.Context, inputTokens, outputTokens int64) error {
	return t.record(ctx, ServiceLLM, increment{
		inputTokens:  inputTokens,
		outputTokens: outputTokens,
		costUSD:      t.LLMCost(inputTokens, outputTokens),
	})
}

type increment struct {
	searchCount  int64
	mapCount     int64
	inputTokens  int64
	outputTokens int64
	costUSD      float64
}

// record applies one increment to the daily, weekly, and monthly buckets in a
// single transaction. Partial application is never left behind: if any bucket
// fails the whole tracking operation fails.
func (t *Tracker) record(ctx context.Context, service string, inc increment) error {
	if t == nil || t.pool == nil {
		return fmt.Errorf("usage tracker is not initialized")
	}

	now := globaltime.UTC()
	tx, err := t.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin usage tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	const q = `
INSERT INTO curator.usage_metrics AS um (
	service, period, bucket_date,
	call_count, search_count, map_count,
	input_tokens, output_tokens, cost_usd,
	updated_at
)
VALUES ($1, $2, $3, 1, $4, $5, $6, $7, $8, $9)
ON CONFLICT (service, period, bucket_date) DO UPDATE
SET
	call_count = um.call_count + 1,
	search_count = um.search_count + EXCLUDED.search_count,
	map_count = um.map_count + EXCLUDED.map_count,
	input_tokens = um.input_tokens + EXCLUDED.input_tokens,
	output_tokens = um.output_tokens + EXCLUDED.output_tokens,
	cost_usd = um.cost_usd + EXCLUDED.cost_usd,
	updated_at = EXCLUDED.updated_at
`

	for _, bucket := range bucketKeys(now) {
		if _, err := tx.Exec(ctx, q,
			service, bucket.period, bucket.date,
			inc.searchCount, inc.mapCount,
			inc.inputTokens, inc.outputTokens, inc.costUSD,
			now,
		); err != nil {
			return fmt.Errorf("increment %s/%s usage bucket: %w", service, bucket.period, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit usage tx: %w", err)
	}
	return nil
}

// CheckBudget compares the current monthly bucket against the configured
// budget. A zero budget reports percentage 0 and withinBudget false.
func (t *Tracker) CheckBudget(ctx context.Context, service string) (BudgetStatus, error) {
	if t == nil || t.pool == nil {
		return BudgetStatus{}, fmt.Errorf("usage tracker is not initialized")
	}

	stats, err := t.GetUsageStats(ctx, service, PeriodMonthly)
	if err != nil {
		return BudgetStatus{}, err
	}

	usage := stats.CostUSD
	if service != ServiceLLM {
		usage = float64(stats.CallCount)
	}
	status := EvaluateBudget(service, usage, t.budgets[service])
	if !status.WithinBudget {
		t.logger.Warn().
			Str("service", service).
			Float64("usage", status.Usage).
			Float64("budget", status.Budget).
			Float64("percentage", status.Percentage).
			Msg("monthly budget exceeded")
	}
	return status, nil
}

// CheckAllBudgets reports one monthly status per configured service.
func (t *Tracker) CheckAllBudgets(ctx context.Context) ([]BudgetStatus, error) {
	statuses := make([]BudgetStatus, 0, 2)
	for _, service := range []string{ServiceSearch, ServiceLLM} {
		status, err := t.CheckBudget(ctx, service)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// GetUsageStats reads the current bucket for a service and period. A bucket
// that has never been incremented reads back as zeros.
func (t *Tracker) GetUsageStats(ctx context.Context, service, period string) (UsageStats, error) {
	if t == nil || t.pool == nil {
		return UsageStats{}, fmt.Errorf("usage tracker is not initialized")
	}

	now := globaltime.UTC()
	date, err := bucketDate(period, now)
	if err != nil {
		return UsageStats{}, err
	}

	const q = `
SELECT call_count, search_count, map_count, input_tokens, output_tokens, cost_usd, updated_at
FROM curator.usage_metrics
WHERE service = $1 AND period = $2 AND bucket_date = $3
`

	stats := UsageStats{
		Service:    service,
		Period:     period,
		BucketDate: date,
		UpdatedAt:  now,
	}
	err = t.pool.QueryRow(ctx, q, service, period, date).Scan(
		&stats.CallCount,
		&stats.SearchCount,
		&stats.MapCount,
		&stats.InputTokens,
		&stats.OutputTokens,
		&stats.CostUSD,
		&stats.UpdatedAt,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return stats, nil
		}
		return UsageStats{}, fmt.Errorf("read usage bucket: %w", err)
	}
	return stats, nil
}

// EvaluateBudget applies the budget rule to a usage figure.
func EvaluateBudget(service string, usage, budget float64) BudgetStatus {
	status := BudgetStatus{
		Service: service,
		Period:  PeriodMonthly,
		Usage:   usage,
		Budget:  budget,
	}
	if budget <= 0 {
		status.Percentage = 0
		status.WithinBudget = false
		return status
	}
	status.Percentage = usage / budget * 100
	status.WithinBudget = usage <= budget
	return status
}

type bucketKey struct {
	period string
	date   string
}

func bucketKeys(now time.Time) []bucketKey {
	daily, _ := bucketDate(PeriodDaily, now)
	weekly, _ := bucketDate(PeriodWeekly, now)
	monthly, _ := bucketDate(PeriodMonthly, now)
	return []bucketKey{
		{period: PeriodDaily, date: daily},
		{period: PeriodWeekly, date: weekly},
		{period: PeriodMonthly, date: monthly},
	}
}

func bucketDate(period string, now time.Time) (string, error) {
	switch period {
	case PeriodDaily:
		return now.Format("2006-01-02"), nil
	case PeriodWeekly:
		year, week := now.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week), nil
	case PeriodMonthly:
		return now.Format("2006-01"), nil
	default:
		return "", fmt.Errorf("unknown usage period %q", period)
	}
}
