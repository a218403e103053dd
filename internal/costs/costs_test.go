package costs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/curator/internal/globaltime"
)

func TestEvaluateBudget_OverBudget(t *testing.T) {
	t.Parallel()

	status := EvaluateBudget(ServiceSearch, 1200, 1000)
	if status.Percentage != 120 {
		t.Fatalf("unexpected percentage: got %f want 120", status.Percentage)
	}
	if status.WithinBudget {
		t.Fatalf("expected over-budget usage to report withinBudget=false")
	}
}

func TestEvaluateBudget_ZeroBudget(t *testing.T) {
	t.Parallel()

	status := EvaluateBudget(ServiceLLM, 5, 0)
	if status.Percentage != 0 {
		t.Fatalf("unexpected percentage for zero budget: got %f want 0", status.Percentage)
	}
	if status.WithinBudget {
		t.Fatalf("expected zero budget to report withinBudget=false")
	}
}

func TestEvaluateBudget_AtBudgetIsWithin(t *testing.T) {
	t.Parallel()

	status := EvaluateBudget(ServiceSearch, 1000, 1000)
	if !status.WithinBudget {
		t.Fatalf("expected usage equal to budget to be within budget")
	}
}

func TestLLMCost(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(nil, zerolog.Nop(), LLMRates{InputPerMTok: 0.15, OutputPerMTok: 0.60}, nil)
	got := tracker.LLMCost(2_000_000, 1_000_000)
	want := 0.90
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("unexpected LLM cost: got %f want %f", got, want)
	}
}

func TestBucketDate(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

	daily, err := bucketDate(PeriodDaily, at)
	if err != nil || daily != "2026-08-31" {
		t.Fatalf("unexpected daily bucket: %q err=%v", daily, err)
	}
	monthly, err := bucketDate(PeriodMonthly, at)
	if err != nil || monthly != "2026-08" {
		t.Fatalf("unexpected monthly bucket: %q err=%v", monthly, err)
	}
	weekly, err := bucketDate(PeriodWeekly, at)
	if err != nil || weekly != "2026-W36" {
		t.Fatalf("unexpected weekly bucket: %q err=%v", weekly, err)
	}
	if _, err := bucketDate("hourly", at); err == nil {
		t.Fatalf("expected error for unknown period")
	}
}

func TestBreaker_OpensAfterThresholdAndRejects(t *testing.T) {
	upstreamErr := errors.New("upstream down")
	breaker := NewBreaker("search", 3, time.Minute)
	ctx := context.Background()

	failing := func(context.Context) error { return upstreamErr }

	for i := 0; i < 3; i++ {
		if err := breaker.Do(ctx, failing); !errors.Is(err, upstreamErr) {
			t.Fatalf("attempt %d: expected upstream error, got %v", i, err)
		}
	}
	if breaker.State() != BreakerOpen {
		t.Fatalf("expected open state after %d failures, got %s", 3, breaker.State())
	}

	calls := 0
	err := breaker.Do(ctx, func(context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("expected fail-fast rejection, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("open breaker must not reach the upstream")
	}

	metrics := breaker.Metrics()
	if metrics.TotalRejections != 1 {
		t.Fatalf("unexpected rejection count: got %d want 1", metrics.TotalRejections)
	}
	if metrics.TotalFailures != 3 {
		t.Fatalf("unexpected failure count: got %d want 3", metrics.TotalFailures)
	}
	if metrics.LastFailureAt == nil {
		t.Fatalf("expected last failure time to be recorded")
	}
}

func TestBreaker_HalfOpenTrialClosesOnSuccess(t *testing.T) {
	start := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	globaltime.SetMockTime(start)
	defer globaltime.ResetTime()

	breaker := NewBreaker("search", 1, 30*time.Second)
	ctx := context.Background()

	if err := breaker.Do(ctx, func(context.Context) error { return errors.New("boom") }); err == nil {
		t.Fatalf("expected failure")
	}
	if breaker.State() != BreakerOpen {
		t.Fatalf("expected open state, got %s", breaker.State())
	}

	globaltime.SetMockTime(start.Add(31 * time.Second))

	if err := breaker.Do(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("expected trial call to pass, got %v", err)
	}
	if breaker.State() != BreakerClosed {
		t.Fatalf("expected closed state after successful trial, got %s", breaker.State())
	}
}

func TestBreaker_HalfOpenTrialReopensOnFailure(t *testing.T) {
	start := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	globaltime.SetMockTime(start)
	defer globaltime.ResetTime()

	breaker := NewBreaker("search", 1, 30*time.Second)
	ctx := context.Background()

	_ = breaker.Do(ctx, func(context.Context) error { return errors.New("boom") })
	globaltime.SetMockTime(start.Add(31 * time.Second))

	if err := breaker.Do(ctx, func(context.Context) error { return errors.New("still down") }); err == nil {
		t.Fatalf("expected trial call failure")
	}
	if breaker.State() != BreakerOpen {
		t.Fatalf("expected re-opened state after failed trial, got %s", breaker.State())
	}
}

func TestBreaker_CountsTimeoutsSeparately(t *testing.T) {
	t.Parallel()

	breaker := NewBreaker("search", 5, time.Minute)
	_ = breaker.Do(context.Background(), func(context.Context) error {
		return context.DeadlineExceeded
	})

	metrics := breaker.Metrics()
	if metrics.TotalTimeouts != 1 {
		t.Fatalf("unexpected timeout count: got %d want 1", metrics.TotalTimeouts)
	}
	if metrics.TotalFailures != 1 {
		t.Fatalf("timeouts still count as failures: got %d want 1", metrics.TotalFailures)
	}
}
