package tools

import (
	"encoding/json"
	"fmt"

	"github.com/maestro-ai/maestro/pkg/models"
	"github.com/maestro-ai/maestro/pkg/retrieval"
)

// Output is the discriminated union of handler results. The loop switches
// on the concrete type to decide how the result feeds back into the LLM.
type Output interface {
	outputType() string
}

// ChunksOutput carries retrieved document chunks.
type ChunksOutput struct {
	Chunks []retrieval.Chunk
}

// WebSearchOutput carries web results plus their preformatted context
// string.
type WebSearchOutput struct {
	Formatted string
	Results   []retrieval.WebResult
}

// BlockOutput carries a UI block payload.
type BlockOutput struct {
	ID      string
	Type    string
	Payload map[string]any
}

// DelegationOutput carries a child assistant's synthesized answer.
type DelegationOutput struct {
	AssistantName string
	Answer        string
	Citations     []models.Citation
	TokensUsed    int
}

// CalendarOutput carries a calendar operation result.
type CalendarOutput struct {
	Data map[string]any
}

// RawOutput carries an arbitrary result dict.
type RawOutput struct {
	Data map[string]any
}

func (ChunksOutput) outputType() string     { return "chunks" }
func (WebSearchOutput) outputType() string  { return "web_search" }
func (BlockOutput) outputType() string      { return "block" }
func (DelegationOutput) outputType() string { return "delegation" }
func (CalendarOutput) outputType() string   { return "calendar" }
func (RawOutput) outputType() string        { return "raw" }

// ExecutionResult is the outcome of one dispatched tool call.
type ExecutionResult struct {
	ToolName string
	Category Category
	Success  bool
	Output   Output
	Error    string
	Block    *models.Block
}

// ToToolMessage renders the default tool-message content fed back to the
// LLM when the loop has no category-specific formatting for the result.
func (r *ExecutionResult) ToToolMessage() string {
	if !r.Success {
		return errorJSON(r.Error)
	}
	switch out := r.Output.(type) {
	case CalendarOutput:
		return mustJSON(out.Data)
	case RawOutput:
		return mustJSON(out.Data)
	case BlockOutput:
		return mustJSON(map[string]any{"id": out.ID, "type": out.Type, "payload": out.Payload})
	case nil:
		return `{"success":true}`
	default:
		return mustJSON(map[string]any{"success": true, "tool": r.ToolName})
	}
}

func errorJSON(message string) string {
	return mustJSON(map[string]any{"error": message})
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"error":"unserializable result: %v"}`, err)
	}
	return string(b)
}
