package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-ai/maestro/pkg/config"
)

func intPtr(n int) *int { return &n }

func TestToolCallAccumulator(t *testing.T) {
	acc := newToolCallAccumulator()

	// OpenAI streams id+name first, then argument fragments, for two
	// parallel calls tracked by index.
	acc.add(openai.ToolCall{Index: intPtr(0), ID: "call_1", Function: openai.FunctionCall{Name: "search_documents"}})
	acc.add(openai.ToolCall{Index: intPtr(1), ID: "call_2", Function: openai.FunctionCall{Name: "search_web"}})
	acc.add(openai.ToolCall{Index: intPtr(0), Function: openai.FunctionCall{Arguments: `{"query":`}})
	acc.add(openai.ToolCall{Index: intPtr(1), Function: openai.FunctionCall{Arguments: `{"query":"news"}`}})
	acc.add(openai.ToolCall{Index: intPtr(0), Function: openai.FunctionCall{Arguments: `"pricing"}`}})

	calls := acc.flush()
	require.Len(t, calls, 2)
	assert.Equal(t, "call_1", calls[0].CallID)
	assert.Equal(t, "search_documents", calls[0].Name)
	assert.JSONEq(t, `{"query":"pricing"}`, calls[0].Arguments)
	assert.Equal(t, "search_web", calls[1].Name)

	// Flush resets
	assert.Empty(t, acc.flush())
}

func TestToolCallAccumulator_IncompleteDropped(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.add(openai.ToolCall{Index: intPtr(0), Function: openai.FunctionCall{Arguments: `{}`}}) // never got id/name

	assert.Empty(t, acc.flush())
}

func TestConvertMessages(t *testing.T) {
	msgs := convertMessages([]ConversationMessage{
		{Role: "system", Content: "You are concise."},
		{Role: "user", Content: "hello"},
		{Role: "assistant", ToolCalls: []ToolCall{{ID: "call_1", Name: "search_documents", Arguments: `{"query":"x"}`}}},
		{Role: "tool", Content: `{"ok":true}`, ToolCallID: "call_1", ToolName: "search_documents"},
	})

	require.Len(t, msgs, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, msgs[0].Role)
	require.Len(t, msgs[2].ToolCalls, 1)
	assert.Equal(t, "search_documents", msgs[2].ToolCalls[0].Function.Name)
	assert.Equal(t, "call_1", msgs[3].ToolCallID)
	assert.Equal(t, "search_documents", msgs[3].Name)
}

func TestConvertTools_BadSchemaDegrades(t *testing.T) {
	tools := convertTools([]ToolSchema{
		{Name: "good", Description: "ok", Parameters: json.RawMessage(`{"type":"object"}`)},
		{Name: "bad", Parameters: json.RawMessage(`{not json`)},
	})

	require.Len(t, tools, 2)
	assert.Equal(t, "good", tools[0].Function.Name)
	params, ok := tools[1].Function.Parameters.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "object", params["type"])
}

// endlessTokenServer streams completion chunks until the request is
// aborted, like a provider mid-response when the run gets cancelled.
func endlessTokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(2 * time.Millisecond):
			}
			fmt.Fprint(w, `data: {"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"tok"}}]}`+"\n\n")
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIClient_StreamStopsWhenRunCancelled(t *testing.T) {
	srv := endlessTokenServer(t)
	client := NewOpenAIClient(&config.LLMConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL + "/v1",
		Model:   "gpt-4o-mini",
	})

	ctx, cancel := context.WithCancel(context.Background())
	chunks, err := client.Generate(ctx, &GenerateInput{
		Messages: []ConversationMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	// One token arrives, then the run is cancelled and nothing reads the
	// channel anymore. The stream goroutine must still wind down and
	// release the HTTP response.
	<-chunks
	cancel()

	require.Eventually(t, func() bool {
		buf := make([]byte, 1<<20)
		n := runtime.Stack(buf, true)
		return !strings.Contains(string(buf[:n]), "processStream")
	}, 2*time.Second, 25*time.Millisecond, "stream goroutine still alive after cancellation")
}

func TestScriptedClient(t *testing.T) {
	client := NewScriptedClient(
		[]Chunk{&TextChunk{Content: "hi"}, &UsageChunk{InputTokens: 5, OutputTokens: 1, TotalTokens: 6}},
	)

	chunks, err := client.Generate(context.Background(), &GenerateInput{RunID: "r1"})
	require.NoError(t, err)

	var got []Chunk
	for chunk := range chunks {
		got = append(got, chunk)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "hi", got[0].(*TextChunk).Content)

	// Second call has no script left: empty stream
	chunks, err = client.Generate(context.Background(), &GenerateInput{})
	require.NoError(t, err)
	_, open := <-chunks
	assert.False(t, open)
	assert.Equal(t, 2, client.CallCount())
}
