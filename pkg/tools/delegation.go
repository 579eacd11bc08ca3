package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/maestro-ai/maestro/pkg/llm"
	"github.com/maestro-ai/maestro/pkg/models"
	"github.com/maestro-ai/maestro/pkg/retrieval"
	"github.com/maestro-ai/maestro/pkg/services"
)

// DelegationState counts delegations within one run. Owned by the worker,
// threaded through the Invocation.
type DelegationState struct {
	Used int
}

// Delegator answers a question by delegating to another assistant: a
// bounded retrieval over the target's collections plus one synthesis LLM
// call, paid for by a reservation on the parent run's budget. It never
// re-enters the parent loop.
type Delegator struct {
	assistants *services.AssistantService
	searcher   retrieval.Searcher
	client     llm.Client
	topK       int
}

// NewDelegator creates the delegate_to_assistant handler.
func NewDelegator(assistants *services.AssistantService, searcher retrieval.Searcher, client llm.Client) *Delegator {
	return &Delegator{assistants: assistants, searcher: searcher, client: client, topK: 5}
}

// Handle implements the DELEGATION category. All failure modes return a
// plain error with a normalized message; nothing panics and the parent
// budget is always left consistent.
func (d *Delegator) Handle(ctx context.Context, inv Invocation) (Output, error) {
	caps := DelegationCapsForProfile(inv.Profile)
	if caps.MaxDelegations == 0 {
		return nil, fmt.Errorf("delegation is not available for profile %q", inv.Profile)
	}
	state := inv.Delegations
	if state == nil {
		state = &DelegationState{}
	}
	if state.Used >= caps.MaxDelegations {
		return nil, fmt.Errorf("delegation limit reached (%d per run)", caps.MaxDelegations)
	}

	rawTarget, _ := inv.Args["target_assistant_id"].(string)
	targetID, err := uuid.Parse(rawTarget)
	if err != nil {
		return nil, errors.New("missing or invalid target_assistant_id")
	}
	question, _ := inv.Args["question"].(string)
	if strings.TrimSpace(question) == "" {
		question = inv.Query
	}
	if strings.TrimSpace(question) == "" {
		return nil, errors.New("missing question for delegation")
	}

	if inv.Budget == nil {
		return nil, errors.New("delegation requires a budget")
	}
	label := fmt.Sprintf("delegation:%d:%s", state.Used+1, targetID)
	reservation, err := inv.Budget.Reserve(label, caps.MaxTokensPer)
	if err != nil {
		return nil, fmt.Errorf("delegation budget unavailable: %v", err)
	}
	released := false
	defer func() {
		if !released {
			_, _ = inv.Budget.Release(reservation)
		}
	}()

	target, err := d.assistants.GetAssistant(ctx, inv.TenantID, targetID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return nil, fmt.Errorf("target assistant %s not found", targetID)
		}
		return nil, fmt.Errorf("failed to load target assistant: %v", err)
	}
	if len(target.CollectionIDs) == 0 {
		return nil, fmt.Errorf("assistant %q has no document collections", target.Name)
	}

	chunks, err := d.searcher.Search(ctx, inv.TenantID, target.CollectionIDs, question, d.topK)
	if err != nil {
		return nil, fmt.Errorf("delegation retrieval failed: %v", err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no relevant documents found in assistant %q", target.Name)
	}

	answer, tokens, err := d.synthesize(ctx, target, question, chunks, caps.MaxTokensPer)
	if err != nil {
		return nil, fmt.Errorf("delegation synthesis failed: %v", err)
	}

	// Charge actual usage to the reservation; overruns clamp to the
	// envelope rather than failing the whole delegation.
	if consumeErr := reservation.Consume(tokens); consumeErr != nil {
		_ = reservation.Consume(reservation.Remaining())
		tokens = reservation.Consumed()
	}
	if _, err := inv.Budget.Release(reservation); err != nil {
		return nil, fmt.Errorf("delegation budget release failed: %v", err)
	}
	released = true
	state.Used++

	return DelegationOutput{
		AssistantName: target.Name,
		Answer:        answer,
		Citations:     citationsFromChunks(chunks),
		TokensUsed:    tokens,
	}, nil
}

func (d *Delegator) synthesize(ctx context.Context, target *models.Assistant, question string, chunks []retrieval.Chunk, maxTokens int) (string, int, error) {
	system := target.SystemPrompt
	if system == "" {
		system = "You are a helpful assistant."
	}
	system += "\nAnswer briefly using only the provided excerpts."

	stream, err := d.client.Generate(ctx, &llm.GenerateInput{
		Messages: []llm.ConversationMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: question + "\n\n" + retrieval.FormatChunks(chunks)},
		},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", 0, err
	}

	var answer strings.Builder
	tokens := 0
	for chunk := range stream {
		switch c := chunk.(type) {
		case *llm.TextChunk:
			answer.WriteString(c.Content)
		case *llm.UsageChunk:
			tokens = c.TotalTokens
		case *llm.ErrorChunk:
			return "", 0, errors.New(c.Message)
		}
	}
	if tokens == 0 {
		// usage missing from the stream: rough estimate keeps the
		// budget decreasing
		tokens = estimateTokens(answer.String()) + estimateTokens(question)
	}
	return answer.String(), tokens, nil
}

func citationsFromChunks(chunks []retrieval.Chunk) []models.Citation {
	citations := make([]models.Citation, 0, len(chunks))
	for _, c := range chunks {
		excerpt := c.Content
		if len(excerpt) > 200 {
			excerpt = excerpt[:200]
		}
		citations = append(citations, models.Citation{
			ChunkID:          c.ID.String(),
			DocumentID:       c.DocumentID.String(),
			DocumentFilename: c.DocumentFilename,
			PageNumber:       c.PageNumber,
			Excerpt:          excerpt,
			Score:            c.Score,
		})
	}
	return citations
}

// estimateTokens is the rough chars/4 fallback for streams without usage.
func estimateTokens(s string) int {
	return len(s) / 4
}
