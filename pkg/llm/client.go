// Package llm defines the streaming LLM client interface and its
// OpenAI-compatible implementation.
package llm

import (
	"context"
	"encoding/json"
)

// Client is the interface for calling the LLM provider. It exposes a
// channel-based streaming API: the returned channel is closed when the
// stream completes, and errors are delivered as ErrorChunk values.
type Client interface {
	Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error)
}

// GenerateInput is one chat-completion request.
type GenerateInput struct {
	RunID     string
	Messages  []ConversationMessage
	Tools     []ToolSchema // nil = no tools
	MaxTokens int          // 0 = provider default
}

// ConversationMessage is one turn of the conversation sent to the model.
type ConversationMessage struct {
	Role       string // "system", "user", "assistant", "tool"
	Content    string
	ToolCalls  []ToolCall // for assistant messages
	ToolCallID string     // for tool result messages
	ToolName   string     // for tool result messages
}

// ToolSchema describes a tool offered to the LLM.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON Schema
}

// ToolCall represents the LLM's request to call a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON
}

// Chunk is the interface for all streaming chunk types.
type Chunk interface {
	chunkType() ChunkType
}

// ChunkType identifies the kind of streaming chunk.
type ChunkType string

const (
	ChunkTypeText     ChunkType = "text"
	ChunkTypeToolCall ChunkType = "tool_call"
	ChunkTypeUsage    ChunkType = "usage"
	ChunkTypeError    ChunkType = "error"
)

// TextChunk is a chunk of the LLM's text response.
type TextChunk struct{ Content string }

// ToolCallChunk signals a fully accumulated tool call.
type ToolCallChunk struct{ CallID, Name, Arguments string }

// UsageChunk reports token consumption for this LLM call. Arrives at most
// once, at the end of the stream.
type UsageChunk struct{ InputTokens, OutputTokens, TotalTokens int }

// ErrorChunk signals an error from the LLM provider.
type ErrorChunk struct {
	Message   string
	Retryable bool
}

func (c *TextChunk) chunkType() ChunkType     { return ChunkTypeText }
func (c *ToolCallChunk) chunkType() ChunkType { return ChunkTypeToolCall }
func (c *UsageChunk) chunkType() ChunkType    { return ChunkTypeUsage }
func (c *ErrorChunk) chunkType() ChunkType    { return ChunkTypeError }
