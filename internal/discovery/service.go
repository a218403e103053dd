// Package discovery finds candidate documents via domain mapping and keyword
// search, normalizes their identity, and records them for review.
package discovery

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/curator/internal/costs"
	"horse.fit/curator/internal/db"
	"horse.fit/curator/internal/globaltime"
	"horse.fit/curator/internal/identity"
)

const (
	MethodMap    = "map"
	MethodSearch = "search"
	MethodManual = "manual"
	MethodAgent  = "agent"

	maxRunErrorLength = 4000
)

// Candidate is one normalized discovery before persistence.
type Candidate struct {
	ID             string
	URL            string
	Title          string
	Method         string
	DiscoveredFrom string
}

// RunResult is the ledger outcome of one discovery run.
type RunResult struct {
	RunID    int64
	Found    int
	Inserted int
}

type Service struct {
	pool     *db.Pool
	logger   zerolog.Logger
	mapper   MapClient
	searcher SearchClient
	tracker  *costs.Tracker
	breaker  *costs.Breaker
}

func NewService(pool *db.Pool, logger zerolog.Logger, mapper MapClient, searcher SearchClient, tracker *costs.Tracker, breaker *costs.Breaker) *Service {
	return &Service{
		pool:     pool,
		logger:   logger,
		mapper:   mapper,
		searcher: searcher,
		tracker:  tracker,
		breaker:  breaker,
	}
}

// DiscoverFromMap lists a seed domain's URLs, canonicalizes them, and
// deduplicates within the batch. Titles are derived from the URL path
// because the mapping API returns bare URLs. Upstream errors propagate.
func (s *Service) DiscoverFromMap(ctx context.Context, domain string, limit int) ([]Candidate, error) {
	if s == nil || s.mapper == nil {
		return nil, fmt.Errorf("discovery service is not initialized")
	}

	if err := s.checkBudget(ctx); err != nil {
		return nil, err
	}

	seed := strings.TrimSpace(domain)
	var links []string
	err := s.breaker.Do(ctx, func(callCtx context.Context) error {
		var mapErr error
		links, mapErr = s.mapper.Map(callCtx, seed, limit)
		return mapErr
	})
	if err != nil {
		return nil, fmt.Errorf("map discovery for %s: %w", seed, err)
	}
	if trackErr := s.tracker.RecordMapCall(ctx); trackErr != nil {
		return nil, fmt.Errorf("record map usage: %w", trackErr)
	}

	return mapCandidates(links, seed), nil
}

// mapCandidates canonicalizes mapped URLs and deduplicates them against
// siblings in the same batch by discovery id.
func mapCandidates(links []string, seed string) []Candidate {
	candidates := make([]Candidate, 0, len(links))
	seen := map[string]struct{}{}
	for _, link := range links {
		canonical, id := identity.FromURL(link)
		if _, exists := seen[id]; exists {
			continue
		}
		seen[id] = struct{}{}
		candidates = append(candidates, Candidate{
			ID:             id,
			URL:            canonical,
			Title:          TitleFromURL(canonical),
			Method:         MethodMap,
			DiscoveredFrom: seed,
		})
	}
	return candidates
}

// DiscoverFromSearch runs a keyword search restricted to an optional domain
// allow-list. Result titles come from the API. Upstream errors propagate.
func (s *Service) DiscoverFromSearch(ctx context.Context, query string, limit int, domains []string) ([]Candidate, error) {
	if s == nil || s.searcher == nil {
		return nil, fmt.Errorf("discovery service is not initialized")
	}

	if err := s.checkBudget(ctx); err != nil {
		return nil, err
	}

	trimmedQuery := strings.TrimSpace(query)
	var results []SearchResult
	err := s.breaker.Do(ctx, func(callCtx context.Context) error {
		var searchErr error
		results, searchErr = s.searcher.Search(callCtx, trimmedQuery, limit, domains)
		return searchErr
	})
	if err != nil {
		return nil, fmt.Errorf("search discovery for %q: %w", trimmedQuery, err)
	}
	if trackErr := s.tracker.RecordSearchCall(ctx); trackErr != nil {
		return nil, fmt.Errorf("record search usage: %w", trackErr)
	}

	return searchCandidates(results, trimmedQuery), nil
}

func searchCandidates(results []SearchResult, query string) []Candidate {
	candidates := make([]Candidate, 0, len(results))
	seen := map[string]struct{}{}
	for _, result := range results {
		canonical, id := identity.FromURL(result.URL)
		if _, exists := seen[id]; exists {
			continue
		}
		seen[id] = struct{}{}

		title := strings.TrimSpace(result.Title)
		if title == "" {
			title = TitleFromURL(canonical)
		}
		candidates = append(candidates, Candidate{
			ID:             id,
			URL:            canonical,
			Title:          title,
			Method:         MethodSearch,
			DiscoveredFrom: query,
		})
	}
	return candidates
}

// RunMap performs map discovery and records both the ledger row and the
// discovered candidates. Candidate inserts are idempotent on discovery id.
func (s *Service) RunMap(ctx context.Context, domain string, limit int) (RunResult, error) {
	return s.run(ctx, MethodMap, strings.TrimSpace(domain), func(runCtx context.Context) ([]Candidate, error) {
		return s.DiscoverFromMap(runCtx, domain, limit)
	})
}

// RunSearch performs search discovery and records the run and candidates.
func (s *Service) RunSearch(ctx context.Context, query string, limit int, domains []string) (RunResult, error) {
	return s.run(ctx, MethodSearch, strings.TrimSpace(query), func(runCtx context.Context) ([]Candidate, error) {
		return s.DiscoverFromSearch(runCtx, query, limit, domains)
	})
}

func (s *Service) run(ctx context.Context, method, seed string, discover func(context.Context) ([]Candidate, error)) (RunResult, error) {
	if s == nil || s.pool == nil {
		return RunResult{}, fmt.Errorf("discovery service is not initialized")
	}

	runID, err := s.insertRun(ctx, method, seed)
	if err != nil {
		return RunResult{}, fmt.Errorf("insert discovery run: %w", err)
	}

	candidates, err := discover(ctx)
	if err != nil {
		if markErr := s.markRunFailed(ctx, runID, err); markErr != nil {
			return RunResult{}, fmt.Errorf("discovery failed (%v); failed to mark run failed: %w", err, markErr)
		}
		return RunResult{RunID: runID}, err
	}

	inserted, err := s.insertCandidates(ctx, candidates)
	if err != nil {
		if markErr := s.markRunFailed(ctx, runID, err); markErr != nil {
			return RunResult{}, fmt.Errorf("insert candidates failed (%v); failed to mark run failed: %w", err, markErr)
		}
		return RunResult{RunID: runID}, err
	}

	if err := s.markRunCompleted(ctx, runID, len(candidates), inserted); err != nil {
		return RunResult{}, fmt.Errorf("mark discovery run completed: %w", err)
	}

	s.logger.Info().
		Int64("run_id", runID).
		Str("method", method).
		Str("seed", seed).
		Int("found", len(candidates)).
		Int("inserted", inserted).
		Msg("discovery run completed")

	return RunResult{RunID: runID, Found: len(candidates), Inserted: inserted}, nil
}

func (s *Service) checkBudget(ctx context.Context) error {
	status, err := s.tracker.CheckBudget(ctx, costs.ServiceSearch)
	if err != nil {
		return fmt.Errorf("check search budget: %w", err)
	}
	if !status.WithinBudget {
		return fmt.Errorf("search service at %.0f%% of budget: %w", status.Percentage, costs.ErrBudgetExceeded)
	}
	return nil
}

func (s *Service) insertRun(ctx context.Context, method, seed string) (int64, error) {
	const q = `
INSERT INTO curator.discovery_runs (method, seed, started_at, status, urls_found, urls_inserted)
VALUES ($1, $2, $3, 'running', 0, 0)
RETURNING run_id
`
	var runID int64
	if err := s.pool.QueryRow(ctx, q, method, seed, globaltime.UTC()).Scan(&runID); err != nil {
		return 0, err
	}
	return runID, nil
}

func (s *Service) markRunCompleted(ctx context.Context, runID int64, found, inserted int) error {
	const q = `
UPDATE curator.discovery_runs
SET status = 'completed', urls_found = $2, urls_inserted = $3, finished_at = $4, error_message = NULL
WHERE run_id = $1
`
	_, err := s.pool.Exec(ctx, q, runID, found, inserted, globaltime.UTC())
	return err
}

func (s *Service) markRunFailed(ctx context.Context, runID int64, cause error) error {
	const q = `
UPDATE curator.discovery_runs
SET status = 'failed', error_message = $2, finished_at = $3
WHERE run_id = $1
`
	msg := strings.TrimSpace(cause.Error())
	if len(msg) > maxRunErrorLength {
		msg = msg[:maxRunErrorLength]
	}
	_, err := s.pool.Exec(ctx, q, runID, msg, globaltime.UTC())
	return err
}

func (s *Service) insertCandidates(ctx context.Context, candidates []Candidate) (int, error) {
	const q = `
INSERT INTO curator.discovered_sources (
	discovery_id, url, title, discovery_method, discovered_at, discovered_from,
	status, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, 'pending_metadata', $5, $5)
ON CONFLICT (discovery_id) DO NOTHING
`

	inserted := 0
	now := globaltime.UTC()
	for _, candidate := range candidates {
		tag, err := s.pool.Exec(ctx, q,
			candidate.ID, candidate.URL, candidate.Title,
			candidate.Method, now, candidate.DiscoveredFrom,
		)
		if err != nil {
			return inserted, fmt.Errorf("insert discovered source %s: %w", candidate.ID, err)
		}
		if tag.RowsAffected() > 0 {
			inserted++
		}
	}
	return inserted, nil
}

// TitleFromURL derives a human-readable title from the last path segment:
// extension dropped, hyphens and underscores turned into spaces, words
// capitalized. Falls back to the host when the path is empty.
func TitleFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	segment := path.Base(parsed.Path)
	if segment == "." || segment == "/" || segment == "" {
		return parsed.Hostname()
	}

	if dot := strings.LastIndex(segment, "."); dot > 0 {
		segment = segment[:dot]
	}
	segment = strings.ReplaceAll(segment, "-", " ")
	segment = strings.ReplaceAll(segment, "_", " ")

	words := strings.Fields(segment)
	if len(words) == 0 {
		return parsed.Hostname()
	}
	for i, word := range words {
		runes := []rune(word)
		words[i] = strings.ToUpper(string(runes[:1])) + string(runes[1:])
	}
	return strings.Join(words, " ")
}
