// Package worker drains the fetch-job queue: it fetches a source's text,
// splits it into chunks, collapses near-duplicates, and rewrites the
// source's slice of the chunk store.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/textsplitter"

	"horse.fit/curator/internal/chunkstore"
	"horse.fit/curator/internal/db"
	"horse.fit/curator/internal/dedup"
	"horse.fit/curator/internal/fetch"
	"horse.fit/curator/internal/langdetect"
	"horse.fit/curator/internal/queue"
)

const maxSourceErrorLength = 4000

// Loader fetches a source's readable text.
type Loader interface {
	FetchText(ctx context.Context, pageURL string) (string, error)
}

// Splitter cuts a document into chunk texts. The langchaingo recursive
// character splitter satisfies it.
type Splitter interface {
	SplitText(text string) ([]string, error)
}

// DefaultSplitter returns the standard ingestion splitter.
func DefaultSplitter() Splitter {
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(1200),
		textsplitter.WithChunkOverlap(150),
	)
}

// Options tune one worker.
type Options struct {
	// DedupThreshold is the ingestion-time similarity cutoff.
	DedupThreshold float64
	// MaxAttempts bounds delivery attempts per job; at the limit a failed
	// job stays failed instead of returning to the queue.
	MaxAttempts int
}

// Report summarizes one drain pass.
type Report struct {
	Claimed   int
	Completed int
	Failed    int
}

type Worker struct {
	pool     *db.Pool
	logger   zerolog.Logger
	jobs     *queue.Queue
	store    *chunkstore.Store
	loader   Loader
	splitter Splitter
	opts     Options
}

func New(pool *db.Pool, logger zerolog.Logger, jobs *queue.Queue, store *chunkstore.Store, loader Loader, splitter Splitter, opts Options) *Worker {
	if opts.DedupThreshold <= 0 {
		opts.DedupThreshold = dedup.DefaultThreshold
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Worker{
		pool:     pool,
		logger:   logger,
		jobs:     jobs,
		store:    store,
		loader:   loader,
		splitter: splitter,
		opts:     opts,
	}
}

// Run claims and processes jobs until the queue is drained or the context
// ends. Job failures are recorded and the drain continues.
func (w *Worker) Run(ctx context.Context) (Report, error) {
	if w == nil || w.pool == nil {
		return Report{}, fmt.Errorf("worker is not initialized")
	}

	var report Report
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		job, err := w.jobs.Claim(ctx)
		if err != nil {
			return report, fmt.Errorf("claim job: %w", err)
		}
		if job == nil {
			return report, nil
		}
		report.Claimed++

		if err := w.process(ctx, job); err != nil {
			report.Failed++
			w.logger.Error().Err(err).Int64("job_id", job.ID).Str("source_id", job.SourceID).Msg("fetch job failed")
			continue
		}
		report.Completed++
	}
}

func (w *Worker) process(ctx context.Context, job *queue.Job) error {
	var payload queue.SourcePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		// An undecodable payload will never succeed; fail it for good.
		wrapped := fmt.Errorf("decode job payload: %w", err)
		w.failJob(ctx, job, wrapped, false)
		return wrapped
	}

	text, err := w.loader.FetchText(ctx, payload.URL)
	if err != nil {
		wrapped := fmt.Errorf("fetch %s: %w", payload.URL, err)
		w.markSourceFailure(ctx, payload.SourceID, wrapped)
		w.failJob(ctx, job, wrapped, job.Attempts < w.opts.MaxAttempts)
		return wrapped
	}

	parts, err := w.splitter.SplitText(text)
	if err != nil {
		wrapped := fmt.Errorf("split %s: %w", payload.SourceID, err)
		w.markSourceFailure(ctx, payload.SourceID, wrapped)
		w.failJob(ctx, job, wrapped, false)
		return wrapped
	}

	chunks := buildChunks(parts, payload)
	merged := dedup.Merge(chunks, w.opts.DedupThreshold)

	meta := chunkstore.SourceMeta{
		SourceID:       payload.SourceID,
		DocumentTitle:  payload.Title,
		DocumentType:   payload.DocumentType,
		TopicDomains:   payload.TopicDomains,
		AuthorityLevel: payload.AuthorityLevel,
		Priority:       payload.Priority,
		NGBID:          payload.NGBID,
		Language:       langdetect.DetectISO6391(text),
	}
	if err := w.store.Replace(ctx, meta, merged); err != nil {
		w.markSourceFailure(ctx, payload.SourceID, err)
		w.failJob(ctx, job, err, job.Attempts < w.opts.MaxAttempts)
		return err
	}

	if err := w.markSourceSuccess(ctx, payload.SourceID, fetch.ContentHash(text)); err != nil {
		return err
	}
	if err := w.jobs.Complete(ctx, job.ID); err != nil {
		return err
	}

	w.logger.Info().
		Int64("job_id", job.ID).
		Str("source_id", payload.SourceID).
		Int("chunks_in", len(chunks)).
		Int("chunks_stored", len(merged)).
		Msg("fetch job completed")
	return nil
}

// buildChunks turns split texts into dedup inputs, scoring each chunk from
// the source's priority so cluster representatives from high-priority
// sources win score ties later.
func buildChunks(parts []string, payload queue.SourcePayload) []dedup.Chunk {
	chunks := make([]dedup.Chunk, 0, len(parts))
	for _, part := range parts {
		chunks = append(chunks, dedup.Chunk{
			Content:        part,
			Score:          scoreForPriority(payload.Priority),
			SourceID:       payload.SourceID,
			DocumentTitle:  payload.Title,
			AuthorityLevel: payload.AuthorityLevel,
		})
	}
	return chunks
}

func scoreForPriority(priority string) float64 {
	switch priority {
	case "high":
		return 1.0
	case "low":
		return 0.4
	default:
		return 0.7
	}
}

func (w *Worker) markSourceSuccess(ctx context.Context, sourceID, contentHash string) error {
	_, err := w.pool.Exec(ctx, `
		UPDATE curator.source_configs
		SET last_ingested_at = now(),
		    last_content_hash = $2,
		    consecutive_failures = 0,
		    last_error = NULL,
		    updated_at = now()
		WHERE source_id = $1`,
		sourceID, contentHash)
	if err != nil {
		return fmt.Errorf("mark source %s ingested: %w", sourceID, err)
	}
	return nil
}

func (w *Worker) markSourceFailure(ctx context.Context, sourceID string, cause error) {
	message := cause.Error()
	if len(message) > maxSourceErrorLength {
		message = message[:maxSourceErrorLength]
	}

	_, err := w.pool.Exec(ctx, `
		UPDATE curator.source_configs
		SET consecutive_failures = consecutive_failures + 1,
		    last_error = $2,
		    updated_at = now()
		WHERE source_id = $1`,
		sourceID, message)
	if err != nil {
		w.logger.Error().Err(err).Str("source_id", sourceID).Msg("record source failure failed")
	}
}

func (w *Worker) failJob(ctx context.Context, job *queue.Job, cause error, retry bool) {
	if err := w.jobs.Fail(ctx, job.ID, cause, retry); err != nil {
		w.logger.Error().Err(err).Int64("job_id", job.ID).Msg("record job failure failed")
	}
}
