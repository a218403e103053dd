// Package review drives the human side of the discovery lifecycle: approve
// and reject decisions, and promotion of approved discoveries into the
// ingestion catalog.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/curator/internal/db"
	"horse.fit/curator/internal/identity"
)

// Promotion outcomes for one discovery in a send-to-sources run.
const (
	OutcomeCreated       = "created"
	OutcomeAlreadyLinked = "alreadyLinked"
	OutcomeDuplicateURL  = "duplicateUrl"
	OutcomeNotApproved   = "notApproved"
	OutcomeFailed        = "failed"
)

// PromotionReport tallies per-item outcomes of one send-to-sources run.
type PromotionReport struct {
	Created       int `json:"created"`
	AlreadyLinked int `json:"alreadyLinked"`
	DuplicateURL  int `json:"duplicateUrl"`
	NotApproved   int `json:"notApproved"`
	Failed        int `json:"failed"`
}

func (r *PromotionReport) add(outcome string) {
	switch outcome {
	case OutcomeCreated:
		r.Created++
	case OutcomeAlreadyLinked:
		r.AlreadyLinked++
	case OutcomeDuplicateURL:
		r.DuplicateURL++
	case OutcomeNotApproved:
		r.NotApproved++
	default:
		r.Failed++
	}
}

// BulkReport tallies a bulk approve or reject.
type BulkReport struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

type Service struct {
	pool   *db.Pool
	logger zerolog.Logger
}

func NewService(pool *db.Pool, logger zerolog.Logger) *Service {
	return &Service{pool: pool, logger: logger}
}

// Approve marks one discovery approved. Re-approving an approved discovery
// is a no-op; approving a rejected one re-opens it.
func (s *Service) Approve(ctx context.Context, discoveryID, reviewer string) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("review service is not initialized")
	}
	if strings.TrimSpace(reviewer) == "" {
		return fmt.Errorf("reviewer is required")
	}

	status, err := s.loadStatus(ctx, discoveryID)
	if err != nil {
		return err
	}
	if err := validateTransition(status, db.StatusApproved); err != nil {
		return fmt.Errorf("approve %s: %w", discoveryID, err)
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE curator.discovered_sources
		SET status = $2,
		    reviewed_at = now(),
		    reviewed_by = $3,
		    rejection_reason = NULL,
		    updated_at = now()
		WHERE discovery_id = $1`,
		discoveryID, db.StatusApproved, reviewer)
	if err != nil {
		return fmt.Errorf("approve %s: %w", discoveryID, err)
	}
	return nil
}

// Reject marks one discovery rejected. A reason is required, and an
// approved discovery cannot be rejected.
func (s *Service) Reject(ctx context.Context, discoveryID, reviewer, reason string) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("review service is not initialized")
	}
	if strings.TrimSpace(reviewer) == "" {
		return fmt.Errorf("reviewer is required")
	}
	if strings.TrimSpace(reason) == "" {
		return fmt.Errorf("rejection reason is required")
	}

	status, err := s.loadStatus(ctx, discoveryID)
	if err != nil {
		return err
	}
	if err := validateTransition(status, db.StatusRejected); err != nil {
		return fmt.Errorf("reject %s: %w", discoveryID, err)
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE curator.discovered_sources
		SET status = $2,
		    reviewed_at = now(),
		    reviewed_by = $3,
		    rejection_reason = $4,
		    updated_at = now()
		WHERE discovery_id = $1`,
		discoveryID, db.StatusRejected, reviewer, reason)
	if err != nil {
		return fmt.Errorf("reject %s: %w", discoveryID, err)
	}
	return nil
}

// ApproveMany approves each id independently; one failure never aborts the
// batch.
func (s *Service) ApproveMany(ctx context.Context, discoveryIDs []string, reviewer string) (BulkReport, error) {
	if s == nil || s.pool == nil {
		return BulkReport{}, fmt.Errorf("review service is not initialized")
	}

	var report BulkReport
	for _, id := range discoveryIDs {
		if err := s.Approve(ctx, id, reviewer); err != nil {
			report.Failed++
			s.logger.Warn().Err(err).Str("discovery_id", id).Msg("bulk approve item failed")
			continue
		}
		report.Succeeded++
	}
	return report, nil
}

// RejectMany rejects each id independently. The missing-reason check runs
// before any row is touched.
func (s *Service) RejectMany(ctx context.Context, discoveryIDs []string, reviewer, reason string) (BulkReport, error) {
	if s == nil || s.pool == nil {
		return BulkReport{}, fmt.Errorf("review service is not initialized")
	}
	if strings.TrimSpace(reason) == "" {
		return BulkReport{}, fmt.Errorf("rejection reason is required")
	}

	var report BulkReport
	for _, id := range discoveryIDs {
		if err := s.Reject(ctx, id, reviewer, reason); err != nil {
			report.Failed++
			s.logger.Warn().Err(err).Str("discovery_id", id).Msg("bulk reject item failed")
			continue
		}
		report.Succeeded++
	}
	return report, nil
}

// validateTransition enforces the review state machine. Rejected
// discoveries may be re-approved; approved discoveries are final.
func validateTransition(current, target string) error {
	switch target {
	case db.StatusApproved:
		return nil
	case db.StatusRejected:
		if current == db.StatusApproved {
			return fmt.Errorf("cannot reject an approved discovery")
		}
		return nil
	default:
		return fmt.Errorf("unsupported target status %q", target)
	}
}

// promotable is the slice of a discovery row that promotion needs.
type promotable struct {
	DiscoveryID    string
	URL            string
	Title          string
	Status         string
	DocumentType   *string
	TopicDomains   json.RawMessage
	NGBID          *string
	Priority       *string
	Description    *string
	AuthorityLevel *string
	SourceConfigID *string
}

// SendToSources promotes approved discoveries into the catalog. With no
// explicit ids it covers every approved discovery that is not yet linked.
// The run is idempotent: a discovery that already carries a sourceConfigId
// and a URL that already exists in the catalog both short-circuit without
// creating anything.
func (s *Service) SendToSources(ctx context.Context, discoveryIDs []string) (PromotionReport, error) {
	if s == nil || s.pool == nil {
		return PromotionReport{}, fmt.Errorf("review service is not initialized")
	}

	if len(discoveryIDs) == 0 {
		ids, err := s.promotableIDs(ctx)
		if err != nil {
			return PromotionReport{}, err
		}
		discoveryIDs = ids
	}

	// The catalog URL set is refreshed once per run and extended in memory
	// as this run creates entries.
	knownURLs, err := s.catalogURLs(ctx)
	if err != nil {
		return PromotionReport{}, err
	}

	var report PromotionReport
	for _, id := range discoveryIDs {
		outcome := s.promoteOne(ctx, id, knownURLs)
		report.add(outcome)
	}

	s.logger.Info().
		Int("created", report.Created).
		Int("already_linked", report.AlreadyLinked).
		Int("duplicate_url", report.DuplicateURL).
		Int("not_approved", report.NotApproved).
		Int("failed", report.Failed).
		Msg("send to sources finished")
	return report, nil
}

func (s *Service) promoteOne(ctx context.Context, discoveryID string, knownURLs map[string]struct{}) string {
	disc, err := s.loadPromotable(ctx, discoveryID)
	if err != nil {
		s.logger.Warn().Err(err).Str("discovery_id", discoveryID).Msg("promotion load failed")
		return OutcomeFailed
	}

	canonical := identity.Normalize(disc.URL)
	outcome := classifyPromotion(disc.Status, disc.SourceConfigID, knownURLs, canonical)
	if outcome != OutcomeCreated {
		return outcome
	}

	source := sourceFromDiscovery(disc)
	if err := s.createAndLink(ctx, disc.DiscoveryID, source); err != nil {
		s.logger.Warn().Err(err).Str("discovery_id", discoveryID).Msg("promotion failed")
		return OutcomeFailed
	}
	knownURLs[canonical] = struct{}{}
	return OutcomeCreated
}

// classifyPromotion decides one discovery's promotion outcome. The own-link
// check runs before the URL-set check so a previously promoted discovery
// reports alreadyLinked, not duplicateUrl.
func classifyPromotion(status string, sourceConfigID *string, knownURLs map[string]struct{}, canonicalURL string) string {
	if status != db.StatusApproved {
		return OutcomeNotApproved
	}
	if sourceConfigID != nil && *sourceConfigID != "" {
		return OutcomeAlreadyLinked
	}
	if _, exists := knownURLs[canonicalURL]; exists {
		return OutcomeDuplicateURL
	}
	return OutcomeCreated
}

// sourceFromDiscovery builds a catalog entry from a discovery's extracted
// metadata, filling conservative defaults for fields the evaluations never
// produced.
func sourceFromDiscovery(disc promotable) db.SourceConfig {
	source := db.SourceConfig{
		SourceID:       uuid.NewString(),
		Title:          disc.Title,
		DocumentType:   "document",
		TopicDomains:   disc.TopicDomains,
		URL:            disc.URL,
		Format:         FormatFromURL(disc.URL),
		NGBID:          disc.NGBID,
		Priority:       "medium",
		Description:    disc.Description,
		AuthorityLevel: "unknown",
		Enabled:        true,
	}
	if disc.DocumentType != nil && strings.TrimSpace(*disc.DocumentType) != "" {
		source.DocumentType = *disc.DocumentType
	}
	if disc.Priority != nil && strings.TrimSpace(*disc.Priority) != "" {
		source.Priority = *disc.Priority
	}
	if disc.AuthorityLevel != nil && strings.TrimSpace(*disc.AuthorityLevel) != "" {
		source.AuthorityLevel = *disc.AuthorityLevel
	}
	return source
}

// FormatFromURL infers the fetch format from the URL's path extension.
func FormatFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "html"
	}
	switch strings.ToLower(path.Ext(parsed.Path)) {
	case ".pdf":
		return "pdf"
	case ".txt":
		return "text"
	default:
		return "html"
	}
}

// createAndLink inserts the catalog entry and stamps the discovery's link
// in one transaction. The link is written only where it is still unset, so
// a concurrent promotion of the same discovery cannot relink it.
func (s *Service) createAndLink(ctx context.Context, discoveryID string, source db.SourceConfig) error {
	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin promotion tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO curator.source_configs
			(source_id, title, document_type, topic_domains, url, format,
			 ngb_id, priority, description, authority_level, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		source.SourceID, source.Title, source.DocumentType, source.TopicDomains,
		source.URL, source.Format, source.NGBID, source.Priority,
		source.Description, source.AuthorityLevel, source.Enabled)
	if err != nil {
		return fmt.Errorf("insert catalog entry: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE curator.discovered_sources
		SET source_config_id = $2, updated_at = now()
		WHERE discovery_id = $1 AND source_config_id IS NULL`,
		discoveryID, source.SourceID)
	if err != nil {
		return fmt.Errorf("link discovery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("discovery %s was linked concurrently", discoveryID)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit promotion tx: %w", err)
	}
	return nil
}

func (s *Service) promotableIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT discovery_id FROM curator.discovered_sources
		WHERE status = $1 AND source_config_id IS NULL
		ORDER BY reviewed_at`,
		db.StatusApproved)
	if err != nil {
		return nil, fmt.Errorf("list promotable discoveries: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan discovery id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate promotable discoveries: %w", err)
	}
	return ids, nil
}

// PromotableSince lists approved, unlinked discoveries reviewed within the
// lookback window. The coordinator uses a window wider than its schedule
// interval so a missed run cannot strand an approval.
func (s *Service) PromotableSince(ctx context.Context, lookback string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT discovery_id FROM curator.discovered_sources
		WHERE status = $1
		  AND source_config_id IS NULL
		  AND reviewed_at >= now() - $2::interval
		ORDER BY reviewed_at`,
		db.StatusApproved, lookback)
	if err != nil {
		return nil, fmt.Errorf("list recent approvals: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan discovery id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent approvals: %w", err)
	}
	return ids, nil
}

func (s *Service) catalogURLs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT url FROM curator.source_configs`)
	if err != nil {
		return nil, fmt.Errorf("list catalog urls: %w", err)
	}
	defer rows.Close()

	known := map[string]struct{}{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan catalog url: %w", err)
		}
		known[identity.Normalize(raw)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog urls: %w", err)
	}
	return known, nil
}

func (s *Service) loadStatus(ctx context.Context, discoveryID string) (string, error) {
	var status string
	row := s.pool.QueryRow(ctx,
		`SELECT status FROM curator.discovered_sources WHERE discovery_id = $1`,
		discoveryID)
	if err := row.Scan(&status); err != nil {
		if db.IsNoRows(err) {
			return "", fmt.Errorf("discovery %s not found", discoveryID)
		}
		return "", fmt.Errorf("load discovery %s: %w", discoveryID, err)
	}
	return status, nil
}

func (s *Service) loadPromotable(ctx context.Context, discoveryID string) (promotable, error) {
	var disc promotable
	row := s.pool.QueryRow(ctx, `
		SELECT discovery_id, url, title, status, document_type, topic_domains,
		       ngb_id, priority, description, authority_level, source_config_id
		FROM curator.discovered_sources
		WHERE discovery_id = $1`,
		discoveryID)
	err := row.Scan(&disc.DiscoveryID, &disc.URL, &disc.Title, &disc.Status,
		&disc.DocumentType, &disc.TopicDomains, &disc.NGBID, &disc.Priority,
		&disc.Description, &disc.AuthorityLevel, &disc.SourceConfigID)
	if err != nil {
		if db.IsNoRows(err) {
			return promotable{}, fmt.Errorf("discovery %s not found", discoveryID)
		}
		return promotable{}, fmt.Errorf("load discovery %s: %w", discoveryID, err)
	}
	return disc, nil
}
