package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"horse.fit/curator/internal/db"
)

// Review actions accepted by the single and bulk discovery endpoints.
const (
	actionApprove       = "approve"
	actionReject        = "reject"
	actionSendToSources = "send_to_sources"
)

type discoveryItem struct {
	DiscoveryID        string          `json:"discovery_id"`
	URL                string          `json:"url"`
	Title              string          `json:"title"`
	DiscoveryMethod    string          `json:"discovery_method"`
	DiscoveredAt       time.Time       `json:"discovered_at"`
	DiscoveredFrom     string          `json:"discovered_from"`
	Status             string          `json:"status"`
	MetadataConfidence *float64        `json:"metadata_confidence,omitempty"`
	ContentConfidence  *float64        `json:"content_confidence,omitempty"`
	CombinedConfidence *float64        `json:"combined_confidence,omitempty"`
	DocumentType       *string         `json:"document_type,omitempty"`
	TopicDomains       json.RawMessage `json:"topic_domains,omitempty"`
	NGBID              *string         `json:"ngb_id,omitempty"`
	Priority           *string         `json:"priority,omitempty"`
	Description        *string         `json:"description,omitempty"`
	AuthorityLevel     *string         `json:"authority_level,omitempty"`
	Language           *string         `json:"language,omitempty"`
	MetadataReasoning  *string         `json:"metadata_reasoning,omitempty"`
	ContentReasoning   *string         `json:"content_reasoning,omitempty"`
	ReviewedAt         *time.Time      `json:"reviewed_at,omitempty"`
	ReviewedBy         *string         `json:"reviewed_by,omitempty"`
	RejectionReason    *string         `json:"rejection_reason,omitempty"`
	SourceConfigID     *string         `json:"source_config_id,omitempty"`
}

type discoveryListResponse struct {
	Discoveries []discoveryItem `json:"discoveries"`
	More        bool            `json:"more"`
}

type discoveryActionRequest struct {
	Action   string `json:"action"`
	Reviewer string `json:"reviewer"`
	Reason   string `json:"reason"`
}

type discoveryBulkRequest struct {
	Action   string   `json:"action"`
	IDs      []string `json:"ids"`
	Reviewer string   `json:"reviewer"`
	Reason   string   `json:"reason"`
}

// validateActionRequest checks an action request before any row is
// touched. Bulk send_to_sources may omit ids to cover every approved
// discovery.
func validateActionRequest(action, reviewer, reason string) map[string]string {
	fieldErrors := map[string]string{}
	switch action {
	case actionApprove:
		if strings.TrimSpace(reviewer) == "" {
			fieldErrors["reviewer"] = "reviewer is required"
		}
	case actionReject:
		if strings.TrimSpace(reviewer) == "" {
			fieldErrors["reviewer"] = "reviewer is required"
		}
		if strings.TrimSpace(reason) == "" {
			fieldErrors["reason"] = "rejection reason is required"
		}
	case actionSendToSources:
	default:
		fieldErrors["action"] = fmt.Sprintf("unsupported action %q", action)
	}
	return fieldErrors
}

// parseListLimit clamps the requested page size. The list query fetches
// one extra row to report whether more results exist.
func parseListLimit(raw string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return defaultPageSize, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return limit, nil
}

func (s *Server) handleDiscoveries(c echo.Context) error {
	status := strings.TrimSpace(c.QueryParam("status"))
	limit, err := parseListLimit(c.QueryParam("limit"))
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	items, more, err := s.listDiscoveries(c.Request().Context(), status, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list discoveries failed")
		return internalError(c, "Failed to load discoveries")
	}
	return success(c, discoveryListResponse{Discoveries: items, More: more})
}

func (s *Server) handleDiscoveryDetail(c echo.Context) error {
	item, err := s.loadDiscovery(c.Request().Context(), c.Param("discovery_id"))
	if err != nil {
		if db.IsNoRows(err) {
			return failNotFound(c, "Discovery not found")
		}
		s.logger.Error().Err(err).Msg("load discovery failed")
		return internalError(c, "Failed to load discovery")
	}
	return success(c, item)
}

func (s *Server) handleDiscoveryAction(c echo.Context) error {
	discoveryID := c.Param("discovery_id")

	var req discoveryActionRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid request body", nil)
	}
	if fieldErrors := validateActionRequest(req.Action, req.Reviewer, req.Reason); len(fieldErrors) > 0 {
		return failValidation(c, fieldErrors)
	}

	ctx := c.Request().Context()
	switch req.Action {
	case actionApprove:
		if err := s.reviewer.Approve(ctx, discoveryID, req.Reviewer); err != nil {
			return fail(c, http.StatusConflict, err.Error(), nil)
		}
	case actionReject:
		if err := s.reviewer.Reject(ctx, discoveryID, req.Reviewer, req.Reason); err != nil {
			return fail(c, http.StatusConflict, err.Error(), nil)
		}
	case actionSendToSources:
		report, err := s.reviewer.SendToSources(ctx, []string{discoveryID})
		if err != nil {
			s.logger.Error().Err(err).Msg("promotion failed")
			return internalError(c, "Failed to promote discovery")
		}
		return success(c, report)
	}

	item, err := s.loadDiscovery(ctx, discoveryID)
	if err != nil {
		if db.IsNoRows(err) {
			return failNotFound(c, "Discovery not found")
		}
		s.logger.Error().Err(err).Msg("reload discovery failed")
		return internalError(c, "Failed to load discovery")
	}
	return success(c, item)
}

func (s *Server) handleDiscoveryBulk(c echo.Context) error {
	var req discoveryBulkRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid request body", nil)
	}
	if fieldErrors := validateActionRequest(req.Action, req.Reviewer, req.Reason); len(fieldErrors) > 0 {
		return failValidation(c, fieldErrors)
	}
	if req.Action != actionSendToSources && len(req.IDs) == 0 {
		return failValidation(c, map[string]string{"ids": "ids are required"})
	}

	ctx := c.Request().Context()
	switch req.Action {
	case actionApprove:
		report, err := s.reviewer.ApproveMany(ctx, req.IDs, req.Reviewer)
		if err != nil {
			s.logger.Error().Err(err).Msg("bulk approve failed")
			return internalError(c, "Failed to approve discoveries")
		}
		return success(c, report)
	case actionReject:
		report, err := s.reviewer.RejectMany(ctx, req.IDs, req.Reviewer, req.Reason)
		if err != nil {
			return fail(c, http.StatusBadRequest, err.Error(), nil)
		}
		return success(c, report)
	default:
		report, err := s.reviewer.SendToSources(ctx, req.IDs)
		if err != nil {
			s.logger.Error().Err(err).Msg("bulk promotion failed")
			return internalError(c, "Failed to promote discoveries")
		}
		return success(c, report)
	}
}

const discoveryColumns = `discovery_id, url, title, discovery_method, discovered_at,
	discovered_from, status, metadata_confidence, content_confidence,
	combined_confidence, document_type, topic_domains, ngb_id, priority,
	description, authority_level, language, metadata_reasoning,
	content_reasoning, reviewed_at, reviewed_by, rejection_reason,
	source_config_id`

func (s *Server) listDiscoveries(ctx context.Context, status string, limit int) ([]discoveryItem, bool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+discoveryColumns+`
		FROM curator.discovered_sources
		WHERE ($1 = '' OR status = $1)
		ORDER BY discovered_at DESC, discovery_id
		LIMIT $2`,
		status, limit+1)
	if err != nil {
		return nil, false, fmt.Errorf("query discoveries: %w", err)
	}
	defer rows.Close()

	items := make([]discoveryItem, 0, limit)
	for rows.Next() {
		item, err := scanDiscovery(rows)
		if err != nil {
			return nil, false, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate discoveries: %w", err)
	}

	more := len(items) > limit
	if more {
		items = items[:limit]
	}
	return items, more, nil
}

func (s *Server) loadDiscovery(ctx context.Context, discoveryID string) (discoveryItem, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+discoveryColumns+`
		FROM curator.discovered_sources
		WHERE discovery_id = $1`,
		discoveryID)
	return scanDiscoveryRow(row)
}

func scanDiscovery(rows *db.Rows) (discoveryItem, error) {
	var item discoveryItem
	err := rows.Scan(&item.DiscoveryID, &item.URL, &item.Title, &item.DiscoveryMethod,
		&item.DiscoveredAt, &item.DiscoveredFrom, &item.Status,
		&item.MetadataConfidence, &item.ContentConfidence, &item.CombinedConfidence,
		&item.DocumentType, &item.TopicDomains, &item.NGBID, &item.Priority,
		&item.Description, &item.AuthorityLevel, &item.Language,
		&item.MetadataReasoning, &item.ContentReasoning, &item.ReviewedAt,
		&item.ReviewedBy, &item.RejectionReason, &item.SourceConfigID)
	if err != nil {
		return discoveryItem{}, fmt.Errorf("scan discovery: %w", err)
	}
	return item, nil
}

func scanDiscoveryRow(row *db.Row) (discoveryItem, error) {
	var item discoveryItem
	err := row.Scan(&item.DiscoveryID, &item.URL, &item.Title, &item.DiscoveryMethod,
		&item.DiscoveredAt, &item.DiscoveredFrom, &item.Status,
		&item.MetadataConfidence, &item.ContentConfidence, &item.CombinedConfidence,
		&item.DocumentType, &item.TopicDomains, &item.NGBID, &item.Priority,
		&item.Description, &item.AuthorityLevel, &item.Language,
		&item.MetadataReasoning, &item.ContentReasoning, &item.ReviewedAt,
		&item.ReviewedBy, &item.RejectionReason, &item.SourceConfigID)
	if err != nil {
		return discoveryItem{}, err
	}
	return item, nil
}
