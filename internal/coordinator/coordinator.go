// Package coordinator runs the scheduled ingestion pass: promote recent
// approvals, pick up never-ingested catalog sources, fetch their content,
// and enqueue fetch jobs for the workers.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/curator/internal/db"
	"horse.fit/curator/internal/globaltime"
	"horse.fit/curator/internal/queue"
	"horse.fit/curator/internal/review"
)

const maxSourceErrorLength = 4000

// Status-log entries written per source outcome.
const (
	LogIngesting = "ingesting"
	LogFailed    = "failed"
	LogSkipped   = "skipped"
)

// Skip reasons for one source in a pass.
const (
	SkipNone             = ""
	SkipDisabled         = "disabled"
	SkipFailureBackoff   = "failure_backoff"
	SkipAlreadyIngested  = "already_ingested"
	SkipContentUnchanged = "content_unchanged"
)

// Loader fetches a source's readable text.
type Loader interface {
	FetchText(ctx context.Context, pageURL string) (string, error)
}

// Hasher digests fetched text for change detection.
type Hasher func(text string) string

// Options tune one coordinator instance.
type Options struct {
	// Parallel bounds concurrent fetches in a pass.
	Parallel int
	// MaxConsecutiveFailures is the backoff cutoff; sources at or past it
	// wait for a manual reset.
	MaxConsecutiveFailures int
	// PromoteApproved enables the promotion step before the catalog pass.
	PromoteApproved bool
	// PromoteLookback is the reviewed-at window for promotion, wider than
	// the schedule interval so a missed run cannot strand an approval.
	PromoteLookback time.Duration
}

// Report summarizes one coordinator pass.
type Report struct {
	Promotion         review.PromotionReport
	Processed         int
	Enqueued          int
	Skipped           int
	Failed            int
	SystematicFailure bool
	Degraded          bool
}

// sourceState is the catalog slice the per-source decision needs.
type sourceState struct {
	SourceID            string
	URL                 string
	Title               string
	Format              string
	DocumentType        string
	TopicDomains        json.RawMessage
	AuthorityLevel      string
	Priority            string
	NGBID               *string
	Enabled             bool
	LastIngestedAt      *time.Time
	LastContentHash     *string
	ConsecutiveFailures int
}

type Coordinator struct {
	pool     *db.Pool
	logger   zerolog.Logger
	loader   Loader
	hasher   Hasher
	queue    *queue.Queue
	reviewer *review.Service
	opts     Options
}

func New(pool *db.Pool, logger zerolog.Logger, loader Loader, hasher Hasher, jobs *queue.Queue, reviewer *review.Service, opts Options) *Coordinator {
	if opts.Parallel <= 0 {
		opts.Parallel = 1
	}
	if opts.MaxConsecutiveFailures <= 0 {
		opts.MaxConsecutiveFailures = 3
	}
	return &Coordinator{
		pool:     pool,
		logger:   logger,
		loader:   loader,
		hasher:   hasher,
		queue:    jobs,
		reviewer: reviewer,
		opts:     opts,
	}
}

// Run executes one pass. Per-source failures are recorded and the pass
// continues; only infrastructure errors (catalog unreadable) abort it.
func (c *Coordinator) Run(ctx context.Context) (Report, error) {
	if c == nil || c.pool == nil {
		return Report{}, fmt.Errorf("coordinator is not initialized")
	}

	var report Report

	if c.opts.PromoteApproved && c.reviewer != nil {
		lookback := fmt.Sprintf("%d seconds", int(c.opts.PromoteLookback.Seconds()))
		ids, err := c.reviewer.PromotableSince(ctx, lookback)
		if err != nil {
			return report, fmt.Errorf("list recent approvals: %w", err)
		}
		if len(ids) > 0 {
			promotion, err := c.reviewer.SendToSources(ctx, ids)
			if err != nil {
				return report, fmt.Errorf("promote approvals: %w", err)
			}
			report.Promotion = promotion
		}
	}

	sources, err := c.enabledSources(ctx)
	if err != nil {
		return report, err
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, c.opts.Parallel)
	)

	for _, src := range sources {
		if reason := decideSource(src, c.opts.MaxConsecutiveFailures, false); reason != SkipNone {
			report.Skipped++
			c.logStatus(ctx, src.SourceID, LogSkipped, reason)
			continue
		}

		report.Processed++
		wg.Add(1)
		sem <- struct{}{}
		go func(src sourceState) {
			defer wg.Done()
			defer func() { <-sem }()

			enqueued, err := c.processSource(ctx, src, false)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Failed++
			case enqueued:
				report.Enqueued++
			default:
				report.Skipped++
			}
		}(src)
	}
	wg.Wait()

	report.SystematicFailure, report.Degraded = assessHealth(report.Processed, report.Failed)

	event := c.logger.Info()
	if report.SystematicFailure {
		event = c.logger.Error()
	} else if report.Degraded {
		event = c.logger.Warn()
	}
	event.
		Int("processed", report.Processed).
		Int("enqueued", report.Enqueued).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Bool("systematic_failure", report.SystematicFailure).
		Bool("degraded", report.Degraded).
		Msg("coordinator pass finished")

	return report, nil
}

// EnqueueSource re-ingests one source on explicit admin request, ignoring
// the already-ingested and unchanged-content skips.
func (c *Coordinator) EnqueueSource(ctx context.Context, sourceID string) error {
	if c == nil || c.pool == nil {
		return fmt.Errorf("coordinator is not initialized")
	}

	src, err := c.loadSource(ctx, sourceID)
	if err != nil {
		return err
	}
	if reason := decideSource(src, c.opts.MaxConsecutiveFailures, true); reason != SkipNone {
		return fmt.Errorf("source %s is not ingestable: %s", sourceID, reason)
	}

	enqueued, err := c.processSource(ctx, src, true)
	if err != nil {
		return err
	}
	if !enqueued {
		return fmt.Errorf("source %s produced no job", sourceID)
	}
	return nil
}

// decideSource picks a skip reason for one source, or SkipNone when it
// should be fetched. Forced runs still honor the disabled flag and the
// failure backoff; they bypass only the already-ingested skip.
func decideSource(src sourceState, maxFailures int, force bool) string {
	if !src.Enabled {
		return SkipDisabled
	}
	if src.ConsecutiveFailures >= maxFailures {
		return SkipFailureBackoff
	}
	if !force && src.LastIngestedAt != nil {
		return SkipAlreadyIngested
	}
	return SkipNone
}

// processSource fetches one source, diffs the content hash, and enqueues a
// fetch job. Fetch failures are recorded on the source and returned.
func (c *Coordinator) processSource(ctx context.Context, src sourceState, force bool) (bool, error) {
	text, err := c.loader.FetchText(ctx, src.URL)
	if err != nil {
		c.logger.Warn().Err(err).Str("source_id", src.SourceID).Msg("source fetch failed")
		c.markFailure(ctx, src.SourceID, err)
		c.logStatus(ctx, src.SourceID, LogFailed, err.Error())
		return false, err
	}

	hash := c.hasher(text)
	if !force && src.LastContentHash != nil && *src.LastContentHash == hash {
		c.logStatus(ctx, src.SourceID, LogSkipped, SkipContentUnchanged)
		return false, nil
	}

	payload, err := json.Marshal(queue.SourcePayload{
		SourceID:       src.SourceID,
		URL:            src.URL,
		Title:          src.Title,
		Format:         src.Format,
		DocumentType:   src.DocumentType,
		TopicDomains:   src.TopicDomains,
		AuthorityLevel: src.AuthorityLevel,
		Priority:       src.Priority,
		NGBID:          src.NGBID,
	})
	if err != nil {
		return false, fmt.Errorf("encode job payload for %s: %w", src.SourceID, err)
	}

	c.logStatus(ctx, src.SourceID, LogIngesting, "")

	triggeredAt := globaltime.UTC()
	jobID, err := c.queue.Enqueue(ctx, src.SourceID, payload, hash, triggeredAt)
	if err != nil {
		c.markFailure(ctx, src.SourceID, err)
		c.logStatus(ctx, src.SourceID, LogFailed, err.Error())
		return false, err
	}

	c.logger.Info().
		Str("source_id", src.SourceID).
		Int64("job_id", jobID).
		Str("content_hash", hash).
		Msg("fetch job enqueued")
	return true, nil
}

// assessHealth derives the pass-level health signals: systematic failure
// when every processed source failed, degraded when more than half did.
func assessHealth(processed, failed int) (systematic, degraded bool) {
	if processed == 0 || failed == 0 {
		return false, false
	}
	if failed == processed {
		return true, true
	}
	return false, failed*2 > processed
}

func (c *Coordinator) markFailure(ctx context.Context, sourceID string, cause error) {
	message := cause.Error()
	if len(message) > maxSourceErrorLength {
		message = message[:maxSourceErrorLength]
	}

	_, err := c.pool.Exec(ctx, `
		UPDATE curator.source_configs
		SET consecutive_failures = consecutive_failures + 1,
		    last_error = $2,
		    updated_at = now()
		WHERE source_id = $1`,
		sourceID, message)
	if err != nil {
		c.logger.Error().Err(err).Str("source_id", sourceID).Msg("record source failure failed")
	}
}

func (c *Coordinator) logStatus(ctx context.Context, sourceID, status, detail string) {
	var detailValue *string
	if detail != "" {
		if len(detail) > maxSourceErrorLength {
			detail = detail[:maxSourceErrorLength]
		}
		detailValue = &detail
	}

	_, err := c.pool.Exec(ctx, `
		INSERT INTO curator.ingest_status_log (source_id, status, detail)
		VALUES ($1, $2, $3)`,
		sourceID, status, detailValue)
	if err != nil {
		c.logger.Error().Err(err).Str("source_id", sourceID).Msg("write ingest status failed")
	}
}

const sourceColumns = `source_id, url, title, format, document_type, topic_domains,
	authority_level, priority, ngb_id, enabled, last_ingested_at,
	last_content_hash, consecutive_failures`

func (c *Coordinator) enabledSources(ctx context.Context) ([]sourceState, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT `+sourceColumns+` FROM curator.source_configs WHERE enabled ORDER BY source_id`)
	if err != nil {
		return nil, fmt.Errorf("list enabled sources: %w", err)
	}
	defer rows.Close()

	var sources []sourceState
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enabled sources: %w", err)
	}
	return sources, nil
}

func (c *Coordinator) loadSource(ctx context.Context, sourceID string) (sourceState, error) {
	row := c.pool.QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM curator.source_configs WHERE source_id = $1`,
		sourceID)

	var src sourceState
	err := row.Scan(&src.SourceID, &src.URL, &src.Title, &src.Format,
		&src.DocumentType, &src.TopicDomains, &src.AuthorityLevel, &src.Priority,
		&src.NGBID, &src.Enabled, &src.LastIngestedAt, &src.LastContentHash,
		&src.ConsecutiveFailures)
	if err != nil {
		if db.IsNoRows(err) {
			return sourceState{}, fmt.Errorf("source %s not found", sourceID)
		}
		return sourceState{}, fmt.Errorf("load source %s: %w", sourceID, err)
	}
	return src, nil
}

func scanSource(rows *db.Rows) (sourceState, error) {
	var src sourceState
	err := rows.Scan(&src.SourceID, &src.URL, &src.Title, &src.Format,
		&src.DocumentType, &src.TopicDomains, &src.AuthorityLevel, &src.Priority,
		&src.NGBID, &src.Enabled, &src.LastIngestedAt, &src.LastContentHash,
		&src.ConsecutiveFailures)
	if err != nil {
		return sourceState{}, fmt.Errorf("scan source: %w", err)
	}
	return src, nil
}
