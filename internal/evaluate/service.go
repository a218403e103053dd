// Package evaluate scores discovered sources in two LLM stages: a cheap
// metadata pass over URL and title, then a content pass over the fetched
// document text. It produces confidence scores for human review and never
// approves or rejects on its own.
package evaluate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"

	"horse.fit/curator/internal/costs"
	"horse.fit/curator/internal/db"
	"horse.fit/curator/internal/fetch"
	"horse.fit/curator/internal/langdetect"
)

// metadataWeight and contentWeight favor the content evaluation because it
// sees the actual document.
const (
	metadataWeight = 0.3
	contentWeight  = 0.7
)

// Loader fetches a page's readable text.
type Loader interface {
	FetchText(ctx context.Context, pageURL string) (string, error)
}

// Report tallies one evaluation pass.
type Report struct {
	Evaluated int
	Advanced  int
	Failed    int
}

type Service struct {
	pool            *db.Pool
	logger          zerolog.Logger
	llm             llms.Model
	tracker         *costs.Tracker
	breaker         *costs.Breaker
	loader          Loader
	profiles        *ProfileCache
	contentMaxChars int
}

func NewService(pool *db.Pool, logger zerolog.Logger, llm llms.Model, tracker *costs.Tracker, breaker *costs.Breaker, loader Loader, profiles *ProfileCache, contentMaxChars int) *Service {
	return &Service{
		pool:            pool,
		logger:          logger,
		llm:             llm,
		tracker:         tracker,
		breaker:         breaker,
		loader:          loader,
		profiles:        profiles,
		contentMaxChars: contentMaxChars,
	}
}

// CombinedConfidence blends the two evaluation stages into one score.
func CombinedConfidence(metadataConfidence, contentConfidence float64) float64 {
	return metadataWeight*metadataConfidence + contentWeight*contentConfidence
}

// EvaluateMetadata runs the first-stage evaluation for one discovery and
// persists the result. A relevant discovery advances to pending_content; an
// irrelevant one keeps its status and waits for a human decision.
func (s *Service) EvaluateMetadata(ctx context.Context, discoveryID string) (MetadataEvaluation, error) {
	if s == nil || s.llm == nil {
		return MetadataEvaluation{}, fmt.Errorf("evaluation service is not initialized")
	}

	var pageURL, title string
	row := s.pool.QueryRow(ctx,
		`SELECT url, title FROM curator.discovered_sources WHERE discovery_id = $1`,
		discoveryID)
	if err := row.Scan(&pageURL, &title); err != nil {
		if db.IsNoRows(err) {
			return MetadataEvaluation{}, fmt.Errorf("discovery %s not found", discoveryID)
		}
		return MetadataEvaluation{}, fmt.Errorf("load discovery %s: %w", discoveryID, err)
	}

	hint := ""
	if s.profiles != nil {
		profiles, err := s.profiles.Profiles()
		if err != nil {
			s.logger.Warn().Err(err).Msg("org profiles unavailable, evaluating without hints")
		} else if profile := MatchProfile(profiles, pageURL); profile != nil {
			hint = hintBlock(profile)
		}
	}

	response, err := s.generate(ctx, metadataSystemPrompt, buildMetadataPrompt(pageURL, title, hint))
	if err != nil {
		return MetadataEvaluation{}, fmt.Errorf("metadata evaluation for %s: %w", discoveryID, err)
	}

	eval, ok := ParseMetadataEvaluation(response)
	if !ok {
		s.logger.Warn().Str("discovery_id", discoveryID).Msg("metadata response failed validation, using conservative default")
	}

	if err := s.applyMetadataEvaluation(ctx, discoveryID, eval); err != nil {
		return MetadataEvaluation{}, err
	}
	return eval, nil
}

func (s *Service) applyMetadataEvaluation(ctx context.Context, discoveryID string, eval MetadataEvaluation) error {
	status := db.StatusPendingMetadata
	if eval.IsRelevant {
		status = db.StatusPendingContent
	}

	var topics json.RawMessage
	if len(eval.SuggestedTopicDomains) > 0 {
		encoded, err := json.Marshal(eval.SuggestedTopicDomains)
		if err != nil {
			return fmt.Errorf("encode suggested topics: %w", err)
		}
		topics = encoded
	}

	var docType *string
	if trimmed := strings.TrimSpace(eval.PreliminaryDocumentType); trimmed != "" {
		docType = &trimmed
	}

	_, err := s.pool.Exec(ctx, `
		UPDATE curator.discovered_sources
		SET status = $2,
		    metadata_confidence = $3,
		    metadata_reasoning = $4,
		    topic_domains = COALESCE($5, topic_domains),
		    document_type = COALESCE($6, document_type),
		    updated_at = now()
		WHERE discovery_id = $1`,
		discoveryID, status, eval.Confidence, eval.Reasoning, topics, docType)
	if err != nil {
		return fmt.Errorf("store metadata evaluation for %s: %w", discoveryID, err)
	}
	return nil
}

// EvaluateContent fetches the discovery's document, runs the second-stage
// evaluation, and persists classification plus the combined confidence.
// The status stays pending_content; approval is a human action.
func (s *Service) EvaluateContent(ctx context.Context, discoveryID string) (ContentEvaluation, error) {
	if s == nil || s.llm == nil || s.loader == nil {
		return ContentEvaluation{}, fmt.Errorf("evaluation service is not initialized")
	}

	var pageURL, title string
	var metadataConfidence *float64
	row := s.pool.QueryRow(ctx,
		`SELECT url, title, metadata_confidence FROM curator.discovered_sources WHERE discovery_id = $1`,
		discoveryID)
	if err := row.Scan(&pageURL, &title, &metadataConfidence); err != nil {
		if db.IsNoRows(err) {
			return ContentEvaluation{}, fmt.Errorf("discovery %s not found", discoveryID)
		}
		return ContentEvaluation{}, fmt.Errorf("load discovery %s: %w", discoveryID, err)
	}

	text, err := s.loader.FetchText(ctx, pageURL)
	if err != nil {
		return ContentEvaluation{}, fmt.Errorf("fetch %s for evaluation: %w", pageURL, err)
	}
	text, truncated := fetch.TruncateText(text, s.contentMaxChars)
	if truncated {
		s.logger.Debug().Str("discovery_id", discoveryID).Int("max_chars", s.contentMaxChars).Msg("evaluation text truncated")
	}

	response, err := s.generate(ctx, contentSystemPrompt, buildContentPrompt(pageURL, title, text))
	if err != nil {
		return ContentEvaluation{}, fmt.Errorf("content evaluation for %s: %w", discoveryID, err)
	}

	eval, ok := ParseContentEvaluation(response)
	if !ok {
		s.logger.Warn().Str("discovery_id", discoveryID).Msg("content response failed validation, using conservative default")
	}

	language := langdetect.DetectISO6391(text)

	metaConf := 0.0
	if metadataConfidence != nil {
		metaConf = *metadataConfidence
	}
	combined := CombinedConfidence(metaConf, eval.Confidence)

	if err := s.applyContentEvaluation(ctx, discoveryID, eval, combined, language); err != nil {
		return ContentEvaluation{}, err
	}
	return eval, nil
}

func (s *Service) applyContentEvaluation(ctx context.Context, discoveryID string, eval ContentEvaluation, combined float64, language string) error {
	var topics json.RawMessage
	if len(eval.TopicDomains) > 0 {
		encoded, err := json.Marshal(eval.TopicDomains)
		if err != nil {
			return fmt.Errorf("encode topic domains: %w", err)
		}
		topics = encoded
	}

	var keyTopics json.RawMessage
	if len(eval.KeyTopics) > 0 {
		encoded, err := json.Marshal(eval.KeyTopics)
		if err != nil {
			return fmt.Errorf("encode key topics: %w", err)
		}
		keyTopics = encoded
	}

	var lang *string
	if language != "" {
		lang = &language
	}

	var description *string
	if trimmed := strings.TrimSpace(eval.Description); trimmed != "" {
		description = &trimmed
	}

	var docType *string
	if trimmed := strings.TrimSpace(eval.DocumentType); trimmed != "" {
		docType = &trimmed
	}

	_, err := s.pool.Exec(ctx, `
		UPDATE curator.discovered_sources
		SET content_confidence = $2,
		    combined_confidence = $3,
		    content_reasoning = $4,
		    document_type = COALESCE($5, document_type),
		    topic_domains = COALESCE($6, topic_domains),
		    key_topics = COALESCE($7, key_topics),
		    authority_level = $8,
		    priority = $9,
		    description = COALESCE($10, description),
		    ngb_id = COALESCE($11, ngb_id),
		    language = COALESCE($12, language),
		    updated_at = now()
		WHERE discovery_id = $1`,
		discoveryID, eval.Confidence, combined, eval.Description,
		docType, topics, keyTopics, eval.AuthorityLevel, eval.Priority,
		description, eval.NGBID, lang)
	if err != nil {
		return fmt.Errorf("store content evaluation for %s: %w", discoveryID, err)
	}
	return nil
}

// EvaluatePendingMetadata runs the metadata stage over unevaluated
// pending_metadata discoveries, oldest first. One discovery's failure is
// tallied and logged, never aborting the pass.
func (s *Service) EvaluatePendingMetadata(ctx context.Context, limit int) (Report, error) {
	ids, err := s.pendingIDs(ctx,
		`SELECT discovery_id FROM curator.discovered_sources
		 WHERE status = $1 AND metadata_confidence IS NULL
		 ORDER BY discovered_at
		 LIMIT $2`,
		db.StatusPendingMetadata, limit)
	if err != nil {
		return Report{}, err
	}

	var report Report
	for _, id := range ids {
		eval, err := s.EvaluateMetadata(ctx, id)
		if err != nil {
			report.Failed++
			s.logger.Error().Err(err).Str("discovery_id", id).Msg("metadata evaluation failed")
			if isStopError(err) {
				return report, err
			}
			continue
		}
		report.Evaluated++
		if eval.IsRelevant {
			report.Advanced++
		}
	}
	return report, nil
}

// EvaluatePendingContent runs the content stage over pending_content
// discoveries that have no content score yet.
func (s *Service) EvaluatePendingContent(ctx context.Context, limit int) (Report, error) {
	ids, err := s.pendingIDs(ctx,
		`SELECT discovery_id FROM curator.discovered_sources
		 WHERE status = $1 AND content_confidence IS NULL
		 ORDER BY discovered_at
		 LIMIT $2`,
		db.StatusPendingContent, limit)
	if err != nil {
		return Report{}, err
	}

	var report Report
	for _, id := range ids {
		if _, err := s.EvaluateContent(ctx, id); err != nil {
			report.Failed++
			s.logger.Error().Err(err).Str("discovery_id", id).Msg("content evaluation failed")
			if isStopError(err) {
				return report, err
			}
			continue
		}
		report.Evaluated++
	}
	return report, nil
}

func (s *Service) pendingIDs(ctx context.Context, query, status string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending discoveries: %w", err)
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
		return nil, fmt.Errorf("iterate pending discoveries: %w", err)
	}
	return ids, nil
}

// isStopError reports conditions under which continuing the pass is
// pointless: the budget is exhausted, the breaker is open, or the run
// context is gone.
func isStopError(err error) bool {
	return errors.Is(err, costs.ErrBudgetExceeded) ||
		errors.Is(err, costs.ErrBreakerOpen) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// generate performs one guarded model call and records its token usage.
func (s *Service) generate(ctx context.Context, system, prompt string) (string, error) {
	if err := s.checkBudget(ctx); err != nil {
		return "", err
	}

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	var response *llms.ContentResponse
	err := s.breaker.Do(ctx, func(callCtx context.Context) error {
		var genErr error
		response, genErr = s.llm.GenerateContent(callCtx, content,
			llms.WithTemperature(0),
			llms.WithJSONMode())
		return genErr
	})
	if err != nil {
		return "", fmt.Errorf("llm call: %w", err)
	}
	if response == nil || len(response.Choices) == 0 {
		return "", fmt.Errorf("llm call: empty response")
	}

	choice := response.Choices[0]
	inputTokens, outputTokens := tokenUsage(choice.GenerationInfo, system+prompt, choice.Content)
	if trackErr := s.tracker.RecordLLMCall(ctx, inputTokens, outputTokens); trackErr != nil {
		return "", fmt.Errorf("record llm usage: %w", trackErr)
	}

	return choice.Content, nil
}

func (s *Service) checkBudget(ctx context.Context) error {
	status, err := s.tracker.CheckBudget(ctx, costs.ServiceLLM)
	if err != nil {
		return fmt.Errorf("check llm budget: %w", err)
	}
	if !status.WithinBudget {
		return fmt.Errorf("llm budget %.2f exceeded (usage %.2f): %w",
			status.Budget, status.Usage, costs.ErrBudgetExceeded)
	}
	return nil
}

// tokenUsage reads token counts from the provider's generation info,
// estimating from text length when the provider reports none.
func tokenUsage(info map[string]any, input, output string) (int64, int64) {
	in, inOK := tokenCount(info, "PromptTokens")
	out, outOK := tokenCount(info, "CompletionTokens")
	if !inOK {
		in = estimateTokens(input)
	}
	if !outOK {
		out = estimateTokens(output)
	}
	return in, out
}

func tokenCount(info map[string]any, key string) (int64, bool) {
	if info == nil {
		return 0, false
	}
	switch v := info[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// estimateTokens approximates four characters per token.
func estimateTokens(text string) int64 {
	n := int64(len([]rune(text)))/4 + 1
	return n
}
