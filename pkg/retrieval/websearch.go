package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/maestro-ai/maestro/pkg/config"
)

// WebResult is one web search hit.
type WebResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// WebSearcher runs a web search.
type WebSearcher interface {
	SearchWeb(ctx context.Context, query string, topK int) ([]WebResult, error)
}

// WebClient queries a Tavily-style JSON search API with an in-memory TTL
// cache keyed by the normalized query.
type WebClient struct {
	endpoint string
	apiKey   string
	topK     int
	cacheTTL time.Duration
	http     *http.Client

	mu    sync.Mutex
	cache map[string]webCacheEntry
}

type webCacheEntry struct {
	results   []WebResult
	expiresAt time.Time
}

const tavilyEndpoint = "https://api.tavily.com/search"

// NewWebClient creates a web search client from configuration.
func NewWebClient(cfg *config.WebSearchConfig) *WebClient {
	return &WebClient{
		endpoint: tavilyEndpoint,
		apiKey:   cfg.APIKey,
		topK:     cfg.TopK,
		cacheTTL: cfg.CacheTTL,
		http:     &http.Client{Timeout: 20 * time.Second},
		cache:    make(map[string]webCacheEntry),
	}
}

type tavilyRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type tavilyResponse struct {
	Results []WebResult `json:"results"`
}

// SearchWeb returns up to topK results, serving repeated queries from the
// cache until their TTL elapses.
func (c *WebClient) SearchWeb(ctx context.Context, query string, topK int) ([]WebResult, error) {
	if topK <= 0 {
		topK = c.topK
	}
	key := strings.ToLower(strings.TrimSpace(query))

	c.mu.Lock()
	if entry, ok := c.cache[key]; ok && time.Now().Before(entry.expiresAt) {
		results := entry.results
		c.mu.Unlock()
		return clampResults(results, topK), nil
	}
	c.mu.Unlock()

	body, err := json.Marshal(tavilyRequest{APIKey: c.apiKey, Query: query, MaxResults: topK})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal web search request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build web search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web search returned status %d", resp.StatusCode)
	}

	var parsed tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode web search response: %w", err)
	}

	c.mu.Lock()
	c.cache[key] = webCacheEntry{results: parsed.Results, expiresAt: time.Now().Add(c.cacheTTL)}
	c.mu.Unlock()

	return clampResults(parsed.Results, topK), nil
}

func clampResults(results []WebResult, topK int) []WebResult {
	if topK > 0 && len(results) > topK {
		return results[:topK]
	}
	return results
}

// FormatWebResults renders results as the context string fed back to the
// LLM.
func FormatWebResults(results []WebResult) string {
	if len(results) == 0 {
		return "No web results found."
	}
	var b strings.Builder
	b.WriteString("Web search results:\n")
	for i, r := range results {
		fmt.Fprintf(&b, "\n[%d] %s\n%s\n%s\n", i+1, r.Title, r.URL, r.Content)
	}
	return b.String()
}

// FormatChunks renders retrieved chunks as the context string fed back to
// the LLM.
func FormatChunks(chunks []Chunk) string {
	if len(chunks) == 0 {
		return "No documents found."
	}
	var b strings.Builder
	b.WriteString("Retrieved document excerpts:\n")
	for i, c := range chunks {
		fmt.Fprintf(&b, "\n[%d] %s (page %d, score %.2f)\n%s\n", i+1, c.DocumentFilename, c.PageNumber, c.Score, c.Content)
	}
	return b.String()
}
