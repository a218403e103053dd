// Package chunkstore persists processed chunks and serves retrieval
// queries. Writes replace a source's chunks wholesale; reads can merge
// near-duplicate chunks across sources at a looser threshold than
// ingestion used.
package chunkstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/curator/internal/db"
	"horse.fit/curator/internal/dedup"
)

// SourceMeta is the denormalized source metadata stamped on every chunk
// row at write time.
type SourceMeta struct {
	SourceID       string
	DocumentTitle  string
	DocumentType   string
	TopicDomains   json.RawMessage
	AuthorityLevel string
	Priority       string
	NGBID          *string
	Language       string
}

// chunkDocument is the jsonb metadata column.
type chunkDocument struct {
	DocumentType string              `json:"documentType,omitempty"`
	Priority     string              `json:"priority,omitempty"`
	NGBID        *string             `json:"ngbId,omitempty"`
	Alternatives []dedup.Alternative `json:"alternativeSources,omitempty"`
}

type Store struct {
	pool   *db.Pool
	logger zerolog.Logger
}

func New(pool *db.Pool, logger zerolog.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

// Replace swaps a source's chunks for the given set in one transaction.
// Positions are assigned from slice order.
func (s *Store) Replace(ctx context.Context, meta SourceMeta, chunks []dedup.Chunk) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("chunk store is not initialized")
	}

	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin chunk tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM curator.chunks WHERE source_id = $1`, meta.SourceID); err != nil {
		return fmt.Errorf("delete chunks for %s: %w", meta.SourceID, err)
	}

	var language *string
	if meta.Language != "" {
		language = &meta.Language
	}

	for position, chunk := range chunks {
		document, err := json.Marshal(chunkDocument{
			DocumentType: meta.DocumentType,
			Priority:     meta.Priority,
			NGBID:        meta.NGBID,
			Alternatives: chunk.Alternatives,
		})
		if err != nil {
			return fmt.Errorf("encode chunk metadata: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO curator.chunks
				(source_id, position, content, score, document_title,
				 authority_level, topic_domains, language, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			meta.SourceID, position, chunk.Content, chunk.Score,
			meta.DocumentTitle, meta.AuthorityLevel, meta.TopicDomains,
			language, document)
		if err != nil {
			return fmt.Errorf("insert chunk %d for %s: %w", position, meta.SourceID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chunk tx: %w", err)
	}

	s.logger.Debug().Str("source_id", meta.SourceID).Int("chunks", len(chunks)).Msg("chunks replaced")
	return nil
}

// Filter narrows a retrieval query. Zero values mean no constraint.
type Filter struct {
	// Terms are matched case-insensitively against chunk content; all
	// terms must appear.
	Terms []string
	// TopicDomain matches chunks whose topic list contains the value.
	TopicDomain string
	NGBID       string
	Limit       int
	// MergeThreshold collapses near-duplicate results when > 0. Retrieval
	// typically uses a looser threshold than ingestion.
	MergeThreshold float64
}

// Query returns matching chunks as dedup inputs, merged when the filter
// asks for it, sorted by score descending either way.
func (s *Store) Query(ctx context.Context, filter Filter) ([]dedup.Chunk, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("chunk store is not initialized")
	}

	query, args := buildQuery(filter)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []dedup.Chunk
	for rows.Next() {
		var chunk dedup.Chunk
		if err := rows.Scan(&chunk.Content, &chunk.Score, &chunk.SourceID, &chunk.DocumentTitle, &chunk.AuthorityLevel); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	if filter.MergeThreshold > 0 {
		chunks = dedup.Merge(chunks, filter.MergeThreshold)
	}
	return chunks, nil
}

// buildQuery assembles the filtered select. Exposed to tests through the
// package, not the API.
func buildQuery(filter Filter) (string, []any) {
	var (
		conditions []string
		args       []any
	)
	add := func(condition string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	for _, term := range filter.Terms {
		trimmed := strings.TrimSpace(term)
		if trimmed == "" {
			continue
		}
		add("content ILIKE $%d", "%"+trimmed+"%")
	}
	if filter.TopicDomain != "" {
		add("topic_domains @> $%d::jsonb", fmt.Sprintf("[%q]", filter.TopicDomain))
	}
	if filter.NGBID != "" {
		add("metadata->>'ngbId' = $%d", filter.NGBID)
	}

	query := `SELECT content, score, source_id, document_title, authority_level FROM curator.chunks`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY score DESC, source_id, position"

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	return query, args
}

// CountBySource reports chunk counts per source, used by the stats surface.
func (s *Store) CountBySource(ctx context.Context) (map[string]int64, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("chunk store is not initialized")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT source_id, count(*) FROM curator.chunks GROUP BY source_id`)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	defer rows.Close()

	counts := map[string]int64{}
	for rows.Next() {
		var sourceID string
		var count int64
		if err := rows.Scan(&sourceID, &count); err != nil {
			return nil, fmt.Errorf("scan chunk count: %w", err)
		}
		counts[sourceID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk counts: %w", err)
	}
	return counts, nil
}
