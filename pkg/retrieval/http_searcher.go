package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// HTTPSearcher calls the hybrid search service over its JSON API. The
// runtime never ranks documents itself; it delegates to the indexing
// side of the platform.
type HTTPSearcher struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// NewHTTPSearcher creates a searcher against the given search service
// base URL.
func NewHTTPSearcher(baseURL, apiKey string) *HTTPSearcher {
	return &HTTPSearcher{
		endpoint: baseURL + "/api/v1/search",
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

type searchRequest struct {
	TenantID      uuid.UUID   `json:"tenant_id"`
	CollectionIDs []uuid.UUID `json:"collection_ids"`
	Query         string      `json:"query"`
	TopK          int         `json:"top_k"`
}

type searchResponse struct {
	Chunks []Chunk `json:"chunks"`
}

// Search runs a tenant-scoped hybrid search over the given collections.
func (s *HTTPSearcher) Search(ctx context.Context, tenantID uuid.UUID, collectionIDs []uuid.UUID, query string, topK int) ([]Chunk, error) {
	body, err := json.Marshal(searchRequest{
		TenantID:      tenantID,
		CollectionIDs: collectionIDs,
		Query:         query,
		TopK:          topK,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search service returned status %d", resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return parsed.Chunks, nil
}
