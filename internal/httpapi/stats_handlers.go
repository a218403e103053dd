package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"horse.fit/curator/internal/chunkstore"
	"horse.fit/curator/internal/costs"
)

type statsResponse struct {
	DiscoveriesByStatus map[string]int64 `json:"discoveries_by_status"`
	Sources             int64            `json:"sources"`
	EnabledSources      int64            `json:"enabled_sources"`
	Chunks              int64            `json:"chunks"`
	QueuePending        int64            `json:"queue_pending"`
	QueueProcessing     int64            `json:"queue_processing"`
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.queryStats(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("query stats failed")
		return internalError(c, "Failed to load stats")
	}
	return success(c, stats)
}

func (s *Server) queryStats(ctx context.Context) (statsResponse, error) {
	stats := statsResponse{DiscoveriesByStatus: map[string]int64{}}

	rows, err := s.pool.Query(ctx,
		`SELECT status, count(*) FROM curator.discovered_sources GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("count discoveries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("scan discovery count: %w", err)
		}
		stats.DiscoveriesByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("iterate discovery counts: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE enabled)
		FROM curator.source_configs`)
	if err := row.Scan(&stats.Sources, &stats.EnabledSources); err != nil {
		return stats, fmt.Errorf("count sources: %w", err)
	}

	row = s.pool.QueryRow(ctx, `SELECT count(*) FROM curator.chunks`)
	if err := row.Scan(&stats.Chunks); err != nil {
		return stats, fmt.Errorf("count chunks: %w", err)
	}

	pending, processing, err := s.jobs.Depth(ctx)
	if err != nil {
		return stats, err
	}
	stats.QueuePending = pending
	stats.QueueProcessing = processing

	return stats, nil
}

func (s *Server) handleChunks(c echo.Context) error {
	limit, err := parseListLimit(c.QueryParam("limit"))
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	filter := chunkstore.Filter{
		Terms:       strings.Fields(c.QueryParam("q")),
		TopicDomain: strings.TrimSpace(c.QueryParam("topic")),
		NGBID:       strings.TrimSpace(c.QueryParam("ngb")),
		Limit:       limit,
	}
	if raw := strings.TrimSpace(c.QueryParam("merge")); raw != "" {
		threshold, err := strconv.ParseFloat(raw, 64)
		if err != nil || threshold <= 0 || threshold > 1 {
			return failValidation(c, map[string]string{"merge": "merge must be a similarity threshold in (0, 1]"})
		}
		filter.MergeThreshold = threshold
	}

	chunks, err := s.chunks.Query(c.Request().Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("query chunks failed")
		return internalError(c, "Failed to load chunks")
	}
	return success(c, map[string]any{"chunks": chunks})
}

func (s *Server) handleUsage(c echo.Context) error {
	service := strings.TrimSpace(c.QueryParam("service"))
	period := strings.TrimSpace(c.QueryParam("period"))
	if period == "" {
		period = costs.PeriodMonthly
	}

	services := []string{costs.ServiceSearch, costs.ServiceLLM}
	if service != "" {
		services = []string{service}
	}

	usage := map[string]costs.UsageStats{}
	for _, svc := range services {
		stats, err := s.tracker.GetUsageStats(c.Request().Context(), svc, period)
		if err != nil {
			s.logger.Error().Err(err).Str("service", svc).Msg("load usage failed")
			return internalError(c, "Failed to load usage")
		}
		usage[svc] = stats
	}
	return success(c, map[string]any{"period": period, "usage": usage})
}

func (s *Server) handleBudgets(c echo.Context) error {
	statuses, err := s.tracker.CheckAllBudgets(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("check budgets failed")
		return internalError(c, "Failed to check budgets")
	}
	return success(c, map[string]any{"budgets": statuses})
}

func (s *Server) handleBudget(c echo.Context) error {
	service := c.Param("service")
	if service != costs.ServiceSearch && service != costs.ServiceLLM {
		return fail(c, http.StatusBadRequest, fmt.Sprintf("unknown service %q", service), nil)
	}

	status, err := s.tracker.CheckBudget(c.Request().Context(), service)
	if err != nil {
		s.logger.Error().Err(err).Str("service", service).Msg("check budget failed")
		return internalError(c, "Failed to check budget")
	}
	return success(c, status)
}
