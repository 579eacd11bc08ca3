// Package retrieval exposes the document search interface consumed by the
// agent loop and its tools. The hybrid search engine itself lives outside
// the runtime; the loop only depends on this interface.
package retrieval

import (
	"context"

	"github.com/google/uuid"
)

// Chunk is one retrieved document fragment.
type Chunk struct {
	ID               uuid.UUID `json:"id"`
	DocumentID       uuid.UUID `json:"document_id"`
	DocumentFilename string    `json:"document_filename"`
	PageNumber       int       `json:"page_number"`
	Content          string    `json:"content"`
	Score            float64   `json:"score"`
}

// Searcher runs a tenant-scoped search over the given collections.
type Searcher interface {
	Search(ctx context.Context, tenantID uuid.UUID, collectionIDs []uuid.UUID, query string, topK int) ([]Chunk, error)
}

// StaticSearcher returns the same chunks for every query. For tests.
type StaticSearcher struct {
	Chunks []Chunk
	Err    error
}

func (s *StaticSearcher) Search(_ context.Context, _ uuid.UUID, _ []uuid.UUID, _ string, topK int) ([]Chunk, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if topK > 0 && len(s.Chunks) > topK {
		return s.Chunks[:topK], nil
	}
	return s.Chunks, nil
}
