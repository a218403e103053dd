// Package queue is the durable fetch-job queue backed by Postgres. Jobs
// for one source are delivered strictly in enqueue order: a job is only
// claimable when no earlier job for the same source is still pending or
// processing.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/curator/internal/db"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"

	maxErrorLength = 4000
)

// SourcePayload is the catalog snapshot carried inside a fetch job, taken
// at enqueue time so the worker sees the source as the coordinator did.
type SourcePayload struct {
	SourceID       string          `json:"sourceId"`
	URL            string          `json:"url"`
	Title          string          `json:"title"`
	Format         string          `json:"format"`
	DocumentType   string          `json:"documentType"`
	TopicDomains   json.RawMessage `json:"topicDomains,omitempty"`
	AuthorityLevel string          `json:"authorityLevel"`
	Priority       string          `json:"priority"`
	NGBID          *string         `json:"ngbId,omitempty"`
}

// Job is one claimed fetch job.
type Job struct {
	ID          int64
	SourceID    string
	Payload     json.RawMessage
	ContentHash string
	TriggeredAt time.Time
	Attempts    int
}

type Queue struct {
	pool   *db.Pool
	logger zerolog.Logger
}

func New(pool *db.Pool, logger zerolog.Logger) *Queue {
	return &Queue{pool: pool, logger: logger}
}

// Enqueue appends a job for a source and returns its id.
func (q *Queue) Enqueue(ctx context.Context, sourceID string, payload json.RawMessage, contentHash string, triggeredAt time.Time) (int64, error) {
	if q == nil || q.pool == nil {
		return 0, fmt.Errorf("queue is not initialized")
	}

	var jobID int64
	row := q.pool.QueryRow(ctx, `
		INSERT INTO curator.fetch_jobs (source_id, payload, content_hash, triggered_at, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING job_id`,
		sourceID, payload, contentHash, triggeredAt, StatusPending)
	if err := row.Scan(&jobID); err != nil {
		return 0, fmt.Errorf("enqueue fetch job for %s: %w", sourceID, err)
	}
	return jobID, nil
}

// Claim takes the oldest claimable job and marks it processing. A pending
// job is skipped while an earlier job for its source is still in flight,
// which keeps per-source ordering even with many workers. Returns nil when
// nothing is claimable.
func (q *Queue) Claim(ctx context.Context) (*Job, error) {
	if q == nil || q.pool == nil {
		return nil, fmt.Errorf("queue is not initialized")
	}

	tx, err := q.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var job Job
	row := tx.QueryRow(ctx, `
		SELECT j.job_id, j.source_id, j.payload, j.content_hash, j.triggered_at, j.attempts
		FROM curator.fetch_jobs j
		WHERE j.status = $1
		  AND NOT EXISTS (
			SELECT 1 FROM curator.fetch_jobs e
			WHERE e.source_id = j.source_id
			  AND e.job_id < j.job_id
			  AND e.status IN ($1, $2)
		  )
		ORDER BY j.job_id
		LIMIT 1
		FOR UPDATE SKIP LOCKED`,
		StatusPending, StatusProcessing)
	if err := row.Scan(&job.ID, &job.SourceID, &job.Payload, &job.ContentHash, &job.TriggeredAt, &job.Attempts); err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("select claimable job: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE curator.fetch_jobs
		SET status = $2, attempts = attempts + 1, claimed_at = now(), last_error = NULL
		WHERE job_id = $1`,
		job.ID, StatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("mark job %d processing: %w", job.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}

	job.Attempts++
	return &job, nil
}

// Complete marks a claimed job done.
func (q *Queue) Complete(ctx context.Context, jobID int64) error {
	if q == nil || q.pool == nil {
		return fmt.Errorf("queue is not initialized")
	}

	_, err := q.pool.Exec(ctx, `
		UPDATE curator.fetch_jobs
		SET status = $2, finished_at = now()
		WHERE job_id = $1`,
		jobID, StatusCompleted)
	if err != nil {
		return fmt.Errorf("complete job %d: %w", jobID, err)
	}
	return nil
}

// Fail records a job failure. With retry the job returns to pending and a
// later claim will pick it up again, still in per-source order.
func (q *Queue) Fail(ctx context.Context, jobID int64, jobErr error, retry bool) error {
	if q == nil || q.pool == nil {
		return fmt.Errorf("queue is not initialized")
	}

	status := StatusFailed
	if retry {
		status = StatusPending
	}

	message := ""
	if jobErr != nil {
		message = jobErr.Error()
	}
	if len(message) > maxErrorLength {
		message = message[:maxErrorLength]
	}

	_, err := q.pool.Exec(ctx, `
		UPDATE curator.fetch_jobs
		SET status = $2,
		    last_error = $3,
		    claimed_at = NULL,
		    finished_at = CASE WHEN $2 = $4 THEN now() ELSE finished_at END
		WHERE job_id = $1`,
		jobID, status, message, StatusFailed)
	if err != nil {
		return fmt.Errorf("fail job %d: %w", jobID, err)
	}
	return nil
}

// Depth reports how many jobs are waiting and in flight.
func (q *Queue) Depth(ctx context.Context) (pending, processing int64, err error) {
	if q == nil || q.pool == nil {
		return 0, 0, fmt.Errorf("queue is not initialized")
	}

	row := q.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE status = $1),
			count(*) FILTER (WHERE status = $2)
		FROM curator.fetch_jobs`,
		StatusPending, StatusProcessing)
	if err := row.Scan(&pending, &processing); err != nil {
		return 0, 0, fmt.Errorf("count queue depth: %w", err)
	}
	return pending, processing, nil
}
