package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"github.com/maestro-ai/maestro/pkg/llm"
	"github.com/maestro-ai/maestro/pkg/models"
)

const maxPlanSteps = 5

const plannerSystemPrompt = `You are a planning module for an AI assistant. Given the user's message, produce an execution plan as JSON, and nothing but JSON.

Output format:
{"reasoning": "<one sentence>", "steps": [{"action": "<action>", "description": "<what this step does>", "tool": "<optional tool name>"}]}

Allowed actions: "search_documents", "synthesize", "ensure_source_coverage".

Rules:
- Start with "search_documents" when the question needs information from documents.
- Always end with "ensure_source_coverage".
- At most 5 steps.
- For a simple greeting or chit-chat, a single "synthesize" step is enough.`

// Planner turns a user message into an ordered execution plan with one
// constrained LLM call. It never fails: any LLM or parse error falls
// back to a fixed default plan.
type Planner struct {
	client llm.Client
	logger *slog.Logger
}

// NewPlanner creates a planner on the given LLM client.
func NewPlanner(client llm.Client) *Planner {
	return &Planner{client: client, logger: slog.Default()}
}

// BuildPlan generates a plan for the message. Only called for
// non-reactive profiles.
func (p *Planner) BuildPlan(ctx context.Context, runID string, profile models.Profile, message string) *models.Plan {
	raw, err := p.generate(ctx, runID, message)
	if err != nil {
		p.logger.Warn("Planner LLM call failed, using default plan",
			"run_id", runID, "error", err)
		return DefaultPlan(profile)
	}

	plan, err := parsePlan(raw, profile)
	if err != nil {
		p.logger.Warn("Planner output rejected, using default plan",
			"run_id", runID, "error", err)
		return DefaultPlan(profile)
	}
	return plan
}

func (p *Planner) generate(ctx context.Context, runID, message string) (string, error) {
	chunks, err := p.client.Generate(ctx, &llm.GenerateInput{
		RunID: runID,
		Messages: []llm.ConversationMessage{
			{Role: "system", Content: plannerSystemPrompt},
			{Role: "user", Content: message},
		},
	})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for chunk := range chunks {
		switch c := chunk.(type) {
		case *llm.TextChunk:
			sb.WriteString(c.Content)
		case *llm.ErrorChunk:
			return "", &plannerError{c.Message}
		}
	}
	return sb.String(), nil
}

type plannerError struct{ msg string }

func (e *plannerError) Error() string { return e.msg }

type rawPlan struct {
	Reasoning string `json:"reasoning"`
	Steps     []struct {
		Action      string `json:"action"`
		Description string `json:"description"`
		Tool        string `json:"tool"`
	} `json:"steps"`
}

func parsePlan(text string, profile models.Profile) (*models.Plan, error) {
	var raw rawPlan
	if err := json.Unmarshal([]byte(extractJSON(text)), &raw); err != nil {
		return nil, err
	}
	if len(raw.Steps) == 0 {
		return nil, &plannerError{"plan has no steps"}
	}
	if len(raw.Steps) > maxPlanSteps {
		raw.Steps = raw.Steps[:maxPlanSteps]
	}

	plan := &models.Plan{Reasoning: raw.Reasoning, Profile: profile}
	for _, s := range raw.Steps {
		switch s.Action {
		case models.StepActionSearchDocuments, models.StepActionSynthesize, models.StepActionEnsureSourceCoverage:
		default:
			return nil, &plannerError{"unknown plan action: " + s.Action}
		}
		plan.Steps = append(plan.Steps, models.PlanStep{
			ID:          models.NewStepID(),
			Action:      s.Action,
			Description: s.Description,
			Tool:        s.Tool,
			Status:      models.StepStatusPending,
		})
	}
	return plan, nil
}

// DefaultPlan is the fixed fallback used when planning fails.
func DefaultPlan(profile models.Profile) *models.Plan {
	return &models.Plan{
		Reasoning: "Default plan: search, answer, then verify sources.",
		Profile:   profile,
		Steps: []models.PlanStep{
			{ID: models.NewStepID(), Action: models.StepActionSearchDocuments, Description: "Search the assistant's document collections", Tool: "search_documents", Status: models.StepStatusPending},
			{ID: models.NewStepID(), Action: models.StepActionSynthesize, Description: "Compose the answer from the retrieved context", Status: models.StepStatusPending},
			{ID: models.NewStepID(), Action: models.StepActionEnsureSourceCoverage, Description: "Check that factual statements cite their sources", Status: models.StepStatusPending},
		},
	}
}

// PromptSummary renders the plan as a short block appended to the
// system prompt so the model follows the intended step order.
func PromptSummary(plan *models.Plan) string {
	var sb strings.Builder
	sb.WriteString("\n\nExecution plan for this request:\n")
	for i, step := range plan.Steps {
		sb.WriteString(strings.TrimRight(
			"  "+strconv.Itoa(i+1)+". "+step.Action+": "+step.Description, ": "))
		sb.WriteString("\n")
	}
	return sb.String()
}

// extractJSON strips markdown fences and leading prose so a slightly
// decorated model response still parses.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			return text[start : end+1]
		}
	}
	return text
}
