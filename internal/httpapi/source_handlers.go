package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"horse.fit/curator/internal/db"
	"horse.fit/curator/internal/review"
	"horse.fit/curator/internal/sources"
)

type sourceItem struct {
	SourceID            string          `json:"source_id"`
	Title               string          `json:"title"`
	DocumentType        string          `json:"document_type"`
	TopicDomains        json.RawMessage `json:"topic_domains,omitempty"`
	URL                 string          `json:"url"`
	Format              string          `json:"format"`
	NGBID               *string         `json:"ngb_id,omitempty"`
	Priority            string          `json:"priority"`
	Description         *string         `json:"description,omitempty"`
	AuthorityLevel      string          `json:"authority_level"`
	Enabled             bool            `json:"enabled"`
	LastIngestedAt      *time.Time      `json:"last_ingested_at,omitempty"`
	LastContentHash     *string         `json:"last_content_hash,omitempty"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
	LastError           *string         `json:"last_error,omitempty"`
}

type sourceCreateRequest struct {
	Title          string          `json:"title"`
	URL            string          `json:"url"`
	DocumentType   string          `json:"documentType"`
	TopicDomains   json.RawMessage `json:"topicDomains"`
	Format         string          `json:"format"`
	NGBID          *string         `json:"ngbId"`
	Priority       string          `json:"priority"`
	Description    *string         `json:"description"`
	AuthorityLevel string          `json:"authorityLevel"`
}

type sourcePatchRequest struct {
	URL            *string         `json:"url"`
	Format         *string         `json:"format"`
	Title          *string         `json:"title"`
	DocumentType   *string         `json:"documentType"`
	TopicDomains   json.RawMessage `json:"topicDomains"`
	NGBID          *string         `json:"ngbId"`
	AuthorityLevel *string         `json:"authorityLevel"`
	Enabled        *bool           `json:"enabled"`
	Priority       *string         `json:"priority"`
	Description    *string         `json:"description"`
}

// patchFromRequest maps the request body onto the orchestrator's patch.
func patchFromRequest(req sourcePatchRequest) sources.Patch {
	return sources.Patch{
		URL:            req.URL,
		Format:         req.Format,
		Title:          req.Title,
		DocumentType:   req.DocumentType,
		TopicDomains:   req.TopicDomains,
		NGBID:          req.NGBID,
		AuthorityLevel: req.AuthorityLevel,
		Enabled:        req.Enabled,
		Priority:       req.Priority,
		Description:    req.Description,
	}
}

// validateSourceCreate fills defaults and checks the request.
func validateSourceCreate(req *sourceCreateRequest) map[string]string {
	fieldErrors := map[string]string{}
	if strings.TrimSpace(req.Title) == "" {
		fieldErrors["title"] = "title is required"
	}
	if strings.TrimSpace(req.URL) == "" {
		fieldErrors["url"] = "url is required"
	} else if parsed, err := url.Parse(req.URL); err != nil || parsed.Host == "" {
		fieldErrors["url"] = "url must be absolute"
	}
	if req.Format == "" {
		req.Format = review.FormatFromURL(req.URL)
	}
	if req.DocumentType == "" {
		req.DocumentType = "document"
	}
	if req.Priority == "" {
		req.Priority = "medium"
	}
	if req.AuthorityLevel == "" {
		req.AuthorityLevel = "unknown"
	}
	return fieldErrors
}

func (s *Server) handleSources(c echo.Context) error {
	limit, err := parseListLimit(c.QueryParam("limit"))
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}
	enabledOnly := c.QueryParam("enabled") == "true"

	items, more, err := s.listSources(c.Request().Context(), enabledOnly, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list sources failed")
		return internalError(c, "Failed to load sources")
	}
	return success(c, map[string]any{"sources": items, "more": more})
}

func (s *Server) handleSourceCreate(c echo.Context) error {
	var req sourceCreateRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid request body", nil)
	}
	if fieldErrors := validateSourceCreate(&req); len(fieldErrors) > 0 {
		return failValidation(c, fieldErrors)
	}

	sourceID := uuid.NewString()
	_, err := s.pool.Exec(c.Request().Context(), `
		INSERT INTO curator.source_configs
			(source_id, title, document_type, topic_domains, url, format,
			 ngb_id, priority, description, authority_level, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, true)`,
		sourceID, req.Title, req.DocumentType, req.TopicDomains, req.URL,
		req.Format, req.NGBID, req.Priority, req.Description, req.AuthorityLevel)
	if err != nil {
		s.logger.Error().Err(err).Msg("create source failed")
		return internalError(c, "Failed to create source")
	}

	item, err := s.loadSource(c.Request().Context(), sourceID)
	if err != nil {
		s.logger.Error().Err(err).Msg("reload source failed")
		return internalError(c, "Failed to load source")
	}
	return successWithStatus(c, http.StatusCreated, item)
}

func (s *Server) handleSourceDetail(c echo.Context) error {
	item, err := s.loadSource(c.Request().Context(), c.Param("source_id"))
	if err != nil {
		if db.IsNoRows(err) {
			return failNotFound(c, "Source not found")
		}
		s.logger.Error().Err(err).Msg("load source failed")
		return internalError(c, "Failed to load source")
	}
	return success(c, item)
}

func (s *Server) handleSourceUpdate(c echo.Context) error {
	var req sourcePatchRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid request body", nil)
	}

	result, err := s.catalog.Update(c.Request().Context(), c.Param("source_id"), patchFromRequest(req))
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return failNotFound(c, "Source not found")
		}
		s.logger.Error().Err(err).Msg("update source failed")
		return internalError(c, "Failed to update source")
	}
	return success(c, result)
}

func (s *Server) handleSourceDelete(c echo.Context) error {
	err := s.catalog.Delete(c.Request().Context(), c.Param("source_id"))
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return failNotFound(c, "Source not found")
		}
		s.logger.Error().Err(err).Msg("delete source failed")
		return internalError(c, "Failed to delete source")
	}
	return success(c, map[string]any{"deleted": true})
}

func (s *Server) handleSourceReingest(c echo.Context) error {
	if s.coordinator == nil {
		return fail(c, http.StatusServiceUnavailable, "Re-ingestion is not available", nil)
	}

	err := s.coordinator.EnqueueSource(c.Request().Context(), c.Param("source_id"))
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return failNotFound(c, "Source not found")
		}
		return fail(c, http.StatusConflict, err.Error(), nil)
	}
	return success(c, map[string]any{"enqueued": true})
}

const sourceItemColumns = `source_id, title, document_type, topic_domains, url, format,
	ngb_id, priority, description, authority_level, enabled,
	last_ingested_at, last_content_hash, consecutive_failures, last_error`

func (s *Server) listSources(ctx context.Context, enabledOnly bool, limit int) ([]sourceItem, bool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sourceItemColumns+`
		FROM curator.source_configs
		WHERE (NOT $1 OR enabled)
		ORDER BY title, source_id
		LIMIT $2`,
		enabledOnly, limit+1)
	if err != nil {
		return nil, false, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	items := make([]sourceItem, 0, limit)
	for rows.Next() {
		var item sourceItem
		err := rows.Scan(&item.SourceID, &item.Title, &item.DocumentType,
			&item.TopicDomains, &item.URL, &item.Format, &item.NGBID,
			&item.Priority, &item.Description, &item.AuthorityLevel,
			&item.Enabled, &item.LastIngestedAt, &item.LastContentHash,
			&item.ConsecutiveFailures, &item.LastError)
		if err != nil {
			return nil, false, fmt.Errorf("scan source: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate sources: %w", err)
	}

	more := len(items) > limit
	if more {
		items = items[:limit]
	}
	return items, more, nil
}

func (s *Server) loadSource(ctx context.Context, sourceID string) (sourceItem, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+sourceItemColumns+`
		FROM curator.source_configs
		WHERE source_id = $1`,
		sourceID)

	var item sourceItem
	err := row.Scan(&item.SourceID, &item.Title, &item.DocumentType,
		&item.TopicDomains, &item.URL, &item.Format, &item.NGBID,
		&item.Priority, &item.Description, &item.AuthorityLevel,
		&item.Enabled, &item.LastIngestedAt, &item.LastContentHash,
		&item.ConsecutiveFailures, &item.LastError)
	if err != nil {
		return sourceItem{}, err
	}
	return item, nil
}
