package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

// MapClient lists candidate document URLs for a seed domain.
type MapClient interface {
	Map(ctx context.Context, domain string, limit int) ([]string, error)
}

// SearchClient runs a keyword search, optionally restricted to a domain
// allow-list. Result titles come from the upstream API.
type SearchClient interface {
	Search(ctx context.Context, query string, limit int, domains []string) ([]SearchResult, error)
}

type SearchResult struct {
	URL   string
	Title string
}

// APIClient talks to the hosted map/search service. One rate limiter covers
// both endpoints so the process never exceeds the account's request rate.
type APIClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

func NewAPIClient(baseURL, apiKey string, requestsPerSecond float64, timeout time.Duration) *APIClient {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 2
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &APIClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

func (c *APIClient) Map(ctx context.Context, domain string, limit int) ([]string, error) {
	var payload struct {
		Success bool     `json:"success"`
		Links   []string `json:"links"`
		Error   string   `json:"error"`
	}
	body := map[string]any{
		"url":   "https://" + strings.TrimSpace(domain),
		"limit": limit,
	}
	if err := c.post(ctx, "/v1/map", body, &payload); err != nil {
		return nil, err
	}
	if !payload.Success {
		return nil, fmt.Errorf("map API error: %s", payload.Error)
	}
	return payload.Links, nil
}

func (c *APIClient) Search(ctx context.Context, query string, limit int, domains []string) ([]SearchResult, error) {
	var payload struct {
		Success bool `json:"success"`
		Data    []struct {
			URL   string `json:"url"`
			Title string `json:"title"`
		} `json:"data"`
		Error string `json:"error"`
	}
	body := map[string]any{
		"query": scopedQuery(query, domains),
		"limit": limit,
	}
	if err := c.post(ctx, "/v1/search", body, &payload); err != nil {
		return nil, err
	}
	if !payload.Success {
		return nil, fmt.Errorf("search API error: %s", payload.Error)
	}

	results := make([]SearchResult, 0, len(payload.Data))
	for _, item := range payload.Data {
		results = append(results, SearchResult{URL: item.URL, Title: item.Title})
	}
	return results, nil
}

func (c *APIClient) post(ctx context.Context, path string, body any, out any) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("API client is not initialized")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// scopedQuery appends site: qualifiers for the optional domain allow-list.
func scopedQuery(query string, domains []string) string {
	parts := []string{strings.TrimSpace(query)}
	for _, domain := range domains {
		trimmed := strings.TrimSpace(domain)
		if trimmed == "" {
			continue
		}
		parts = append(parts, "site:"+trimmed)
	}
	return strings.Join(parts, " ")
}

// CrawlMapClient is the local/dev map implementation: it fetches the seed
// domain's landing page and collects same-host links. Selected by
// DISCOVERY_PROVIDER=crawl; production deployments use the API instead.
type CrawlMapClient struct {
	client  *http.Client
	limiter *rate.Limiter
}

func NewCrawlMapClient(requestsPerSecond float64, timeout time.Duration) *CrawlMapClient {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 2
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CrawlMapClient{
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

func (c *CrawlMapClient) Map(ctx context.Context, domain string, limit int) ([]string, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("crawl map client is not initialized")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	seed := strings.TrimSpace(domain)
	if seed == "" {
		return nil, fmt.Errorf("domain is required")
	}
	seedURL := "https://" + seed

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, seedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "curator-discovery/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch seed page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("seed page status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse seed page: %w", err)
	}

	base, err := url.Parse(seedURL)
	if err != nil {
		return nil, fmt.Errorf("parse seed url: %w", err)
	}

	seen := map[string]struct{}{}
	links := make([]string, 0, limit)
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, ok := sel.Attr("href")
		if !ok {
			return true
		}
		resolved := resolveSameHostLink(base, href)
		if resolved == "" {
			return true
		}
		if _, exists := seen[resolved]; exists {
			return true
		}
		seen[resolved] = struct{}{}
		links = append(links, resolved)
		return limit <= 0 || len(links) < limit
	})

	return links, nil
}

func resolveSameHostLink(base *url.URL, href string) string {
	trimmed := strings.TrimSpace(href)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") ||
		strings.HasPrefix(strings.ToLower(trimmed), "mailto:") ||
		strings.HasPrefix(strings.ToLower(trimmed), "javascript:") {
		return ""
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(parsed)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	if !strings.EqualFold(strings.TrimPrefix(resolved.Hostname(), "www."), strings.TrimPrefix(base.Hostname(), "www.")) {
		return ""
	}
	return resolved.String()
}
