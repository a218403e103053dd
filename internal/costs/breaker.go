package costs

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"horse.fit/curator/internal/globaltime"
)

// ErrBreakerOpen is returned without calling the upstream while the breaker
// is open. Callers can treat it as a skip rather than an upstream failure.
var ErrBreakerOpen = errors.New("circuit breaker is open")

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// BreakerMetrics is a snapshot of breaker counters.
type BreakerMetrics struct {
	TotalRequests   int64      `json:"total_requests"`
	TotalFailures   int64      `json:"total_failures"`
	TotalTimeouts   int64      `json:"total_timeouts"`
	TotalRejections int64      `json:"total_rejections"`
	LastFailureAt   *time.Time `json:"last_failure_at,omitempty"`
}

// Breaker guards one upstream service. State is shared across all callers in
// the process; transitions happen under a single mutex.
type Breaker struct {
	name             string
	failureThreshold int
	cooldown         time.Duration

	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	openedAt            time.Time
	metrics             BreakerMetrics
}

func NewBreaker(name string, failureThreshold int, cooldown time.Duration) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &Breaker{
		name:             name,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		state:            BreakerClosed,
	}
}

// Do runs fn unless the breaker is open. While open, calls fail fast with
// ErrBreakerOpen and are counted as rejections, not upstream failures. After
// the cool-down one trial call is let through to decide closed vs re-open.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if b == nil {
		return fn(ctx)
	}

	b.mu.Lock()
	b.metrics.TotalRequests++
	if b.state == BreakerOpen {
		if globaltime.UTC().Sub(b.openedAt) < b.cooldown {
			b.metrics.TotalRejections++
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
	}
	b.mu.Unlock()

	err := fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		now := globaltime.UTC()
		b.metrics.TotalFailures++
		if isTimeout(err) {
			b.metrics.TotalTimeouts++
		}
		b.metrics.LastFailureAt = &now
		b.consecutiveFailures++
		if b.state == BreakerHalfOpen || b.consecutiveFailures >= b.failureThreshold {
			b.state = BreakerOpen
			b.openedAt = now
		}
		return err
	}

	b.state = BreakerClosed
	b.consecutiveFailures = 0
	return nil
}

func (b *Breaker) State() BreakerState {
	if b == nil {
		return BreakerClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Metrics() BreakerMetrics {
	if b == nil {
		return BreakerMetrics{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	snapshot := b.metrics
	if b.metrics.LastFailureAt != nil {
		at := *b.metrics.LastFailureAt
		snapshot.LastFailureAt = &at
	}
	return snapshot
}

func (b *Breaker) Name() string {
	if b == nil {
		return ""
	}
	return b.name
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
