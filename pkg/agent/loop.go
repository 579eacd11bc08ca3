package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/maestro-ai/maestro/pkg/llm"
	"github.com/maestro-ai/maestro/pkg/models"
	"github.com/maestro-ai/maestro/pkg/retrieval"
	"github.com/maestro-ai/maestro/pkg/tools"
)

// loopReserve is the minimum headroom required before starting another
// LLM round.
const loopReserve = 500

// citationExcerptLen bounds the excerpt carried in citation metadata.
const citationExcerptLen = 200

// Loop drives the multi-round conversation between the LLM and the tool
// dispatcher for one run.
type Loop struct {
	client     llm.Client
	dispatcher *tools.Dispatcher
	searcher   retrieval.Searcher // reactive retrieval-first pre-pass
	maxTokens  int
	logger     *slog.Logger
}

// NewLoop creates a loop. searcher may be nil when document retrieval is
// not configured; reactive runs then skip the pre-pass.
func NewLoop(client llm.Client, dispatcher *tools.Dispatcher, searcher retrieval.Searcher, maxTokens int) *Loop {
	return &Loop{
		client:     client,
		dispatcher: dispatcher,
		searcher:   searcher,
		maxTokens:  maxTokens,
		logger:     slog.Default(),
	}
}

// Run executes the loop and streams its events. The channel is closed
// after the terminal done or error event.
func (l *Loop) Run(ctx context.Context, rc *RunContext) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		l.run(ctx, rc, newEmitter(ctx, out))
	}()
	return out
}

// emitter serializes sends and respects context cancellation.
type emitter struct {
	ctx context.Context
	out chan<- Event
}

func newEmitter(ctx context.Context, out chan<- Event) *emitter {
	return &emitter{ctx: ctx, out: out}
}

func (e *emitter) send(ev Event) bool {
	select {
	case e.out <- ev:
		return true
	case <-e.ctx.Done():
		return false
	}
}

// loopState is the mutable state of one run through the loop.
type loopState struct {
	messages     []llm.ConversationMessage
	tokensIn     int
	tokensOut    int
	toolRounds   int
	allCitations []models.Citation
	allBlocks    []models.Block
}

func (l *Loop) run(ctx context.Context, rc *RunContext, em *emitter) {
	st := &loopState{}

	systemPrompt := rc.SystemPrompt
	if rc.Plan != nil {
		systemPrompt += PromptSummary(rc.Plan)
		if !em.send(Event{Type: EventPlan, Plan: rc.Plan}) {
			return
		}
	}
	st.messages = append(st.messages, llm.ConversationMessage{Role: "system", Content: systemPrompt})
	st.messages = append(st.messages, rc.History...)

	if rc.Profile == models.ProfileReactive {
		if !l.reactivePrefetch(ctx, rc, st, em) {
			return
		}
	}
	st.messages = append(st.messages, llm.ConversationMessage{Role: "user", Content: rc.Message})

	if !em.send(Event{Type: EventStatus, Status: "analyzing"}) {
		return
	}

	schemas := toolSchemas(rc.AllowedTools)
	maxRounds := rc.Profile.MaxRounds()

	for round := 1; round <= maxRounds; round++ {
		if !rc.Budget.Check(loopReserve) {
			l.logger.Info("Budget exhausted, ending loop early",
				"run_id", rc.RunID, "round", round, "remaining", rc.Budget.Remaining())
			break
		}

		calls, ok := l.streamRound(ctx, rc, st, em, schemas)
		if !ok {
			return
		}
		if len(calls) == 0 {
			break
		}
		st.toolRounds++

		continues := l.executeCalls(ctx, rc, st, em, calls)
		if rc.Plan != nil {
			rc.Plan.CompleteCurrentStep(summarizeCalls(calls))
		}
		if !continues {
			break
		}
	}

	em.send(Event{Type: EventDone, Done: &Result{
		TokensInput:    st.tokensIn,
		TokensOutput:   st.tokensOut,
		ToolRounds:     min(st.toolRounds, maxRounds),
		BlocksCount:    len(st.allBlocks),
		CitationsCount: len(st.allCitations),
	}})
}

// reactivePrefetch performs the retrieval-first strategy for reactive
// runs: one document search against the assistant's collections, with
// the formatted context injected ahead of the user message.
func (l *Loop) reactivePrefetch(ctx context.Context, rc *RunContext, st *loopState, em *emitter) bool {
	if l.searcher == nil || len(rc.CollectionIDs) == 0 {
		return true
	}
	if !em.send(Event{Type: EventStatus, Status: "searching"}) {
		return false
	}

	chunks, err := l.searcher.Search(ctx, rc.TenantID, rc.CollectionIDs, rc.Message, 8)
	if err != nil {
		l.logger.Warn("Reactive retrieval failed, answering without context",
			"run_id", rc.RunID, "error", err)
		return true
	}
	if len(chunks) == 0 {
		return true
	}

	st.messages = append(st.messages, llm.ConversationMessage{
		Role:    "system",
		Content: retrieval.FormatChunks(chunks),
	})
	st.allCitations = append(st.allCitations, citationsFromChunks(chunks)...)
	return em.send(Event{Type: EventCitations, Citations: cloneCitations(st.allCitations)})
}

// streamRound makes one LLM call and consumes its stream. Returns the
// accumulated tool calls and false when the loop must stop (LLM error
// or cancelled consumer).
func (l *Loop) streamRound(ctx context.Context, rc *RunContext, st *loopState, em *emitter, schemas []llm.ToolSchema) ([]llm.ToolCall, bool) {
	chunks, err := l.client.Generate(ctx, &llm.GenerateInput{
		RunID:     rc.RunID.String(),
		Messages:  st.messages,
		Tools:     schemas,
		MaxTokens: l.maxTokens,
	})
	if err != nil {
		em.send(Event{Type: EventError, ErrorCode: "llm_error", ErrorMessage: err.Error()})
		return nil, false
	}

	var calls []llm.ToolCall
	var streamed string
	roundIn, roundOut := 0, 0

	for chunk := range chunks {
		switch c := chunk.(type) {
		case *llm.TextChunk:
			streamed += c.Content
			if !em.send(Event{Type: EventToken, Text: c.Content}) {
				return nil, false
			}
		case *llm.ToolCallChunk:
			calls = append(calls, llm.ToolCall{ID: c.CallID, Name: c.Name, Arguments: c.Arguments})
		case *llm.UsageChunk:
			roundIn, roundOut = c.InputTokens, c.OutputTokens
		case *llm.ErrorChunk:
			em.send(Event{Type: EventError, ErrorCode: "llm_error", ErrorMessage: c.Message})
			return nil, false
		}
	}

	if roundIn == 0 && roundOut == 0 {
		roundIn, roundOut = l.estimateRound(st.messages, streamed, calls)
	}
	rc.Budget.ConsumeSafe(roundIn + roundOut)
	st.tokensIn += roundIn
	st.tokensOut += roundOut

	if len(calls) > 0 {
		st.messages = append(st.messages, llm.ConversationMessage{
			Role:      "assistant",
			Content:   streamed,
			ToolCalls: calls,
		})
	}
	return calls, true
}

// executeCalls dispatches each accumulated tool call in order and feeds
// the results back into the message history. Returns whether any called
// tool re-enters the loop.
func (l *Loop) executeCalls(ctx context.Context, rc *RunContext, st *loopState, em *emitter, calls []llm.ToolCall) bool {
	continues := false
	for _, call := range calls {
		if !em.send(Event{Type: EventTool, Tool: call.Name, ToolPhase: ToolPhaseCalling}) {
			return false
		}

		var args map[string]any
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			args = map[string]any{}
		}

		result := l.dispatcher.ExecuteToolCall(ctx, call.Name, args, rc.invocation(cloneCitations(st.allCitations)))

		phase := ToolPhaseCompleted
		if !result.Success {
			phase = ToolPhaseFailed
		}
		if !em.send(Event{Type: EventTool, Tool: call.Name, ToolPhase: phase, ToolError: result.Error}) {
			return false
		}

		if result.Block != nil {
			st.allBlocks = append(st.allBlocks, *result.Block)
			if !em.send(Event{Type: EventBlock, Block: result.Block}) {
				return false
			}
		}

		content, newCitations := toolMessageContent(result)
		if len(newCitations) > 0 {
			st.allCitations = append(st.allCitations, newCitations...)
			if !em.send(Event{Type: EventCitations, Citations: cloneCitations(st.allCitations)}) {
				return false
			}
		}

		st.messages = append(st.messages, llm.ConversationMessage{
			Role:       "tool",
			Content:    content,
			ToolCallID: call.ID,
			ToolName:   call.Name,
		})

		if result.Category != "" && result.Category.ContinuesLoop() {
			continues = true
		}
	}
	return continues
}

// toolMessageContent formats the tool result for the LLM and extracts
// any citations it produced.
func toolMessageContent(result *tools.ExecutionResult) (string, []models.Citation) {
	if !result.Success {
		return result.ToToolMessage(), nil
	}

	switch out := result.Output.(type) {
	case tools.ChunksOutput:
		return retrieval.FormatChunks(out.Chunks), citationsFromChunks(out.Chunks)
	case tools.WebSearchOutput:
		return out.Formatted, citationsFromWebResults(out.Results)
	case tools.DelegationOutput:
		content := fmt.Sprintf("[Réponse de l'assistant '%s']\n%s", out.AssistantName, out.Answer)
		return content, out.Citations
	default:
		return result.ToToolMessage(), nil
	}
}

func (l *Loop) estimateRound(messages []llm.ConversationMessage, streamed string, calls []llm.ToolCall) (int, int) {
	in := 0
	for _, m := range messages {
		in += len(m.Content) / 4
	}
	out := len(streamed) / 4
	for _, c := range calls {
		out += len(c.Arguments) / 4
	}
	return in, out
}

func toolSchemas(defs []*tools.Definition) []llm.ToolSchema {
	schemas := make([]llm.ToolSchema, 0, len(defs))
	for _, def := range defs {
		schemas = append(schemas, llm.ToolSchema{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.OpenAISchema,
		})
	}
	return schemas
}

func citationsFromChunks(chunks []retrieval.Chunk) []models.Citation {
	citations := make([]models.Citation, 0, len(chunks))
	for _, c := range chunks {
		citations = append(citations, models.Citation{
			ChunkID:          c.ID.String(),
			DocumentID:       c.DocumentID.String(),
			DocumentFilename: c.DocumentFilename,
			PageNumber:       c.PageNumber,
			Excerpt:          truncate(c.Content, citationExcerptLen),
			Score:            c.Score,
		})
	}
	return citations
}

func citationsFromWebResults(results []retrieval.WebResult) []models.Citation {
	citations := make([]models.Citation, 0, len(results))
	for _, r := range results {
		citations = append(citations, models.Citation{
			ChunkID: uuid.NewString(),
			URL:     r.URL,
			Title:   r.Title,
			Excerpt: truncate(r.Content, citationExcerptLen),
			Score:   r.Score,
		})
	}
	return citations
}

func cloneCitations(citations []models.Citation) []models.Citation {
	out := make([]models.Citation, len(citations))
	copy(out, citations)
	return out
}

func summarizeCalls(calls []llm.ToolCall) string {
	if len(calls) == 0 {
		return ""
	}
	names := make([]string, 0, len(calls))
	for _, c := range calls {
		names = append(names, c.Name)
	}
	return "called " + strings.Join(names, ", ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
