// Package sources manages the ingestion catalog: applying admin updates
// with content-aware chunk handling, and deleting sources together with
// their chunks.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/curator/internal/db"
)

// Change classification for one update.
const (
	changeNone     = "none"
	changeMetadata = "metadata"
	changeContent  = "content"
)

// Reingester dispatches a re-ingestion for a source whose content location
// changed.
type Reingester interface {
	EnqueueSource(ctx context.Context, sourceID string) error
}

// Patch is a partial catalog update. Nil fields are untouched.
type Patch struct {
	// Content-affecting fields: changing either invalidates stored chunks.
	URL    *string
	Format *string

	// Metadata-only fields: chunks are patched in place.
	Title          *string
	DocumentType   *string
	TopicDomains   json.RawMessage
	NGBID          *string
	AuthorityLevel *string

	// Neither: no chunk action at all.
	Enabled     *bool
	Priority    *string
	Description *string
}

// Result reports what one update did to the chunk store.
type Result struct {
	ChunksDeleted int64 `json:"chunksDeleted"`
	ChunksUpdated int64 `json:"chunksUpdated"`
	// ReingestDispatched and ReingestError describe the best-effort
	// re-ingestion after a content-affecting change. A failed dispatch
	// does not fail the update.
	ReingestDispatched bool   `json:"reingestDispatched"`
	ReingestError      string `json:"reingestError,omitempty"`
}

type Orchestrator struct {
	pool     *db.Pool
	logger   zerolog.Logger
	reingest Reingester
}

func NewOrchestrator(pool *db.Pool, logger zerolog.Logger, reingest Reingester) *Orchestrator {
	return &Orchestrator{pool: pool, logger: logger, reingest: reingest}
}

// classifyPatch decides the chunk handling for an update. Content-affecting
// changes take precedence when both kinds are present.
func classifyPatch(patch Patch) string {
	if patch.URL != nil || patch.Format != nil {
		return changeContent
	}
	if patch.Title != nil || patch.DocumentType != nil || patch.TopicDomains != nil ||
		patch.NGBID != nil || patch.AuthorityLevel != nil {
		return changeMetadata
	}
	return changeNone
}

// Update applies a catalog patch. A content-affecting change deletes the
// source's chunks, resets its ingestion markers, and then best-effort
// triggers re-ingestion. A metadata-only change patches chunk rows in
// place. Anything else touches the catalog row only.
func (o *Orchestrator) Update(ctx context.Context, sourceID string, patch Patch) (Result, error) {
	if o == nil || o.pool == nil {
		return Result{}, fmt.Errorf("source orchestrator is not initialized")
	}

	kind := classifyPatch(patch)

	switch kind {
	case changeContent:
		return o.applyContentUpdate(ctx, sourceID, patch)
	case changeMetadata:
		return o.applyMetadataUpdate(ctx, sourceID, patch)
	default:
		if err := o.updateRow(ctx, o.pool, sourceID, patch, false); err != nil {
			return Result{}, err
		}
		return Result{}, nil
	}
}

func (o *Orchestrator) applyContentUpdate(ctx context.Context, sourceID string, patch Patch) (Result, error) {
	var result Result

	tx, err := o.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return result, fmt.Errorf("begin update tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM curator.chunks WHERE source_id = $1`, sourceID)
	if err != nil {
		return result, fmt.Errorf("delete chunks for %s: %w", sourceID, err)
	}
	result.ChunksDeleted = tag.RowsAffected()

	if err := o.updateRow(ctx, tx, sourceID, patch, true); err != nil {
		return result, err
	}

	if err := tx.Commit(ctx); err != nil {
		return result, fmt.Errorf("commit update tx: %w", err)
	}

	// Re-ingestion is best effort. The catalog update already succeeded;
	// a dispatch failure is surfaced as a flag for the caller.
	if o.reingest != nil {
		if err := o.reingest.EnqueueSource(ctx, sourceID); err != nil {
			result.ReingestError = err.Error()
			o.logger.Warn().Err(err).Str("source_id", sourceID).Msg("re-ingestion dispatch failed")
		} else {
			result.ReingestDispatched = true
		}
	}
	return result, nil
}

func (o *Orchestrator) applyMetadataUpdate(ctx context.Context, sourceID string, patch Patch) (Result, error) {
	var result Result

	tx, err := o.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return result, fmt.Errorf("begin update tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := o.updateRow(ctx, tx, sourceID, patch, false); err != nil {
		return result, err
	}

	updated, err := patchChunks(ctx, tx, sourceID, patch)
	if err != nil {
		return result, err
	}
	result.ChunksUpdated = updated

	if err := tx.Commit(ctx); err != nil {
		return result, fmt.Errorf("commit update tx: %w", err)
	}
	return result, nil
}

// execer covers both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, query string, args ...any) (db.CommandTag, error)
}

// updateRow writes the patched catalog fields. resetIngest clears the
// ingestion markers so the coordinator treats the source as new content.
func (o *Orchestrator) updateRow(ctx context.Context, ex execer, sourceID string, patch Patch, resetIngest bool) error {
	var (
		sets []string
		args = []any{sourceID}
	)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.URL != nil {
		add("url", *patch.URL)
	}
	if patch.Format != nil {
		add("format", *patch.Format)
	}
	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.DocumentType != nil {
		add("document_type", *patch.DocumentType)
	}
	if patch.TopicDomains != nil {
		add("topic_domains", patch.TopicDomains)
	}
	if patch.NGBID != nil {
		add("ngb_id", *patch.NGBID)
	}
	if patch.AuthorityLevel != nil {
		add("authority_level", *patch.AuthorityLevel)
	}
	if patch.Enabled != nil {
		add("enabled", *patch.Enabled)
	}
	if patch.Priority != nil {
		add("priority", *patch.Priority)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if resetIngest {
		sets = append(sets,
			"last_ingested_at = NULL",
			"last_content_hash = NULL",
			"consecutive_failures = 0",
			"last_error = NULL")
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = now()")

	query := fmt.Sprintf(
		"UPDATE curator.source_configs SET %s WHERE source_id = $1",
		strings.Join(sets, ", "))
	tag, err := ex.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update source %s: %w", sourceID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %s not found", sourceID)
	}
	return nil
}

// patchChunks merges the metadata patch into the source's chunk rows,
// both the denormalized columns and the metadata document.
func patchChunks(ctx context.Context, ex execer, sourceID string, patch Patch) (int64, error) {
	var (
		sets []string
		args = []any{sourceID}
	)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	metaPatch := map[string]any{}
	if patch.Title != nil {
		add("document_title", *patch.Title)
		metaPatch["documentTitle"] = *patch.Title
	}
	if patch.AuthorityLevel != nil {
		add("authority_level", *patch.AuthorityLevel)
		metaPatch["authorityLevel"] = *patch.AuthorityLevel
	}
	if patch.TopicDomains != nil {
		add("topic_domains", patch.TopicDomains)
		metaPatch["topicDomains"] = json.RawMessage(patch.TopicDomains)
	}
	if patch.DocumentType != nil {
		metaPatch["documentType"] = *patch.DocumentType
	}
	if patch.NGBID != nil {
		metaPatch["ngbId"] = *patch.NGBID
	}

	if len(metaPatch) > 0 {
		encoded, err := json.Marshal(metaPatch)
		if err != nil {
			return 0, fmt.Errorf("encode chunk metadata patch: %w", err)
		}
		args = append(args, encoded)
		sets = append(sets, fmt.Sprintf("metadata = COALESCE(metadata, '{}'::jsonb) || $%d::jsonb", len(args)))
	}
	if len(sets) == 0 {
		return 0, nil
	}
	sets = append(sets, "updated_at = now()")

	query := fmt.Sprintf(
		"UPDATE curator.chunks SET %s WHERE source_id = $1",
		strings.Join(sets, ", "))
	tag, err := ex.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("patch chunks for %s: %w", sourceID, err)
	}
	return tag.RowsAffected(), nil
}

// Delete removes a source, its chunks, and its queued fetch jobs. Deletion
// is always an explicit admin action.
func (o *Orchestrator) Delete(ctx context.Context, sourceID string) error {
	if o == nil || o.pool == nil {
		return fmt.Errorf("source orchestrator is not initialized")
	}

	tx, err := o.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM curator.chunks WHERE source_id = $1`, sourceID); err != nil {
		return fmt.Errorf("delete chunks for %s: %w", sourceID, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM curator.fetch_jobs WHERE source_id = $1`, sourceID); err != nil {
		return fmt.Errorf("delete fetch jobs for %s: %w", sourceID, err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM curator.source_configs WHERE source_id = $1`, sourceID)
	if err != nil {
		return fmt.Errorf("delete source %s: %w", sourceID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %s not found", sourceID)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete tx: %w", err)
	}

	o.logger.Info().Str("source_id", sourceID).Msg("source deleted")
	return nil
}
