package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/maestro-ai/maestro/pkg/config"
)

// OpenAIClient talks to any OpenAI-compatible chat-completions endpoint.
type OpenAIClient struct {
	client     *openai.Client
	model      string
	maxTokens  int
	maxRetries int
	retryDelay time.Duration
}

// NewOpenAIClient creates a client from LLM configuration. A custom
// BaseURL points the client at a compatible endpoint (vLLM, LiteLLM, ...).
func NewOpenAIClient(cfg *config.LLMConfig) *OpenAIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// Generate sends the conversation and returns a stream of chunks.
// Tool calls arrive incrementally from OpenAI (id and name first,
// argument fragments after, tracked by index) and are emitted as single
// ToolCallChunk values once complete.
func (c *OpenAIClient) Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error) {
	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: convertMessages(input.Messages),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if input.MaxTokens > 0 {
		req.MaxTokens = input.MaxTokens
	} else if c.maxTokens > 0 {
		req.MaxTokens = c.maxTokens
	}
	if len(input.Tools) > 0 {
		req.Tools = convertTools(input.Tools)
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = c.client.CreateChatCompletionStream(ctx, req)
		if lastErr == nil {
			break
		}
		if !isRetryable(lastErr) {
			return nil, fmt.Errorf("llm request failed: %w", lastErr)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("llm request failed after %d attempts: %w", c.maxRetries, lastErr)
	}

	chunks := make(chan Chunk)
	go c.processStream(ctx, stream, chunks)
	return chunks, nil
}

// deliver sends one chunk unless the context is done. The consumer stops
// reading when the run is cancelled, so an unguarded send would strand
// this goroutine with the HTTP stream still open.
func deliver(ctx context.Context, chunks chan<- Chunk, chunk Chunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *OpenAIClient) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- Chunk) {
	defer close(chunks)
	defer stream.Close()

	acc := newToolCallAccumulator()
	var usage *UsageChunk

	for {
		select {
		case <-ctx.Done():
			deliver(ctx, chunks, &ErrorChunk{Message: ctx.Err().Error()})
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				for _, tc := range acc.flush() {
					if !deliver(ctx, chunks, tc) {
						return
					}
				}
				if usage != nil {
					deliver(ctx, chunks, usage)
				}
				return
			}
			deliver(ctx, chunks, &ErrorChunk{Message: err.Error(), Retryable: isRetryable(err)})
			return
		}

		// With IncludeUsage, the usage arrives in a final chunk that has
		// no choices.
		if response.Usage != nil {
			usage = &UsageChunk{
				InputTokens:  response.Usage.PromptTokens,
				OutputTokens: response.Usage.CompletionTokens,
				TotalTokens:  response.Usage.TotalTokens,
			}
		}
		if len(response.Choices) == 0 {
			continue
		}

		choice := response.Choices[0]
		if choice.Delta.Content != "" {
			if !deliver(ctx, chunks, &TextChunk{Content: choice.Delta.Content}) {
				return
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			acc.add(tc)
		}
		if choice.FinishReason == openai.FinishReasonToolCalls {
			for _, tc := range acc.flush() {
				if !deliver(ctx, chunks, tc) {
					return
				}
			}
		}
	}
}

// toolCallAccumulator assembles incremental tool-call deltas keyed by the
// OpenAI stream index.
type toolCallAccumulator struct {
	calls map[int]*ToolCallChunk
	order []int
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{calls: make(map[int]*ToolCallChunk)}
}

func (a *toolCallAccumulator) add(tc openai.ToolCall) {
	index := 0
	if tc.Index != nil {
		index = *tc.Index
	}
	call, ok := a.calls[index]
	if !ok {
		call = &ToolCallChunk{}
		a.calls[index] = call
		a.order = append(a.order, index)
	}
	if tc.ID != "" {
		call.CallID = tc.ID
	}
	if tc.Function.Name != "" {
		call.Name = tc.Function.Name
	}
	if tc.Function.Arguments != "" {
		call.Arguments += tc.Function.Arguments
	}
}

// flush returns the completed calls in stream order and resets the
// accumulator.
func (a *toolCallAccumulator) flush() []*ToolCallChunk {
	var out []*ToolCallChunk
	for _, index := range a.order {
		call := a.calls[index]
		if call.CallID != "" && call.Name != "" {
			out = append(out, call)
		}
	}
	a.calls = make(map[int]*ToolCallChunk)
	a.order = nil
	return out
}

func convertMessages(messages []ConversationMessage) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
		if msg.Role == "tool" {
			oaiMsg.ToolCallID = msg.ToolCallID
			oaiMsg.Name = msg.ToolName
		}
		if len(msg.ToolCalls) > 0 {
			oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls[i] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				}
			}
		}
		result = append(result, oaiMsg)
	}
	return result
}

func convertTools(tools []ToolSchema) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schema map[string]any
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
			// One bad schema must not break the whole request
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
