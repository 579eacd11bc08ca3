package models

// Citation points at a source used to ground part of a response.
// Document-backed citations carry chunk/document fields; web citations
// carry URL instead.
type Citation struct {
	ChunkID          string  `json:"chunk_id,omitempty"`
	DocumentID       string  `json:"document_id,omitempty"`
	DocumentFilename string  `json:"document_filename,omitempty"`
	PageNumber       int     `json:"page_number,omitempty"`
	Excerpt          string  `json:"excerpt,omitempty"`
	Score            float64 `json:"score,omitempty"`
	URL              string  `json:"url,omitempty"`
	Title            string  `json:"title,omitempty"`
}

// Block is a structured UI payload produced by a tool. Blocks are terminal
// with respect to the LLM loop: they render client-side and never cause
// another LLM turn.
type Block struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}
