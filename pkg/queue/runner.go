package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maestro-ai/maestro/pkg/agent"
	"github.com/maestro-ai/maestro/pkg/budget"
	"github.com/maestro-ai/maestro/pkg/config"
	"github.com/maestro-ai/maestro/pkg/llm"
	"github.com/maestro-ai/maestro/pkg/models"
	"github.com/maestro-ai/maestro/pkg/services"
	"github.com/maestro-ai/maestro/pkg/slack"
	"github.com/maestro-ai/maestro/pkg/stream"
	"github.com/maestro-ai/maestro/pkg/tools"
)

// Run failure codes surfaced on the run row and the error event.
const (
	ErrCodeRunNotFound       = "run_not_found"
	ErrCodeAssistantNotFound = "assistant_not_found"
	ErrCodeWorkerException   = "worker_exception"
	ErrCodeWorkerAborted     = "worker_aborted"
	ErrCodeWatchdogTimeout   = "watchdog_timeout"
)

// Runner executes one agent run end to end: load, plan, loop, persist,
// emit. Every path ends with a terminal run status and a terminal event.
type Runner struct {
	services  Services
	registry  *tools.Registry
	planner   *agent.Planner
	loop      *agent.Loop
	log       stream.EventLog
	streamCfg *config.StreamConfig
	llmCfg    *config.LLMConfig
	history   int
	notifier  *slack.Service
}

// NewRunner wires a runner. history is the number of prior conversation
// messages loaded into the loop's context.
func NewRunner(svcs Services, registry *tools.Registry, planner *agent.Planner, loop *agent.Loop, log stream.EventLog, streamCfg *config.StreamConfig, llmCfg *config.LLMConfig, history int) *Runner {
	return &Runner{
		services:  svcs,
		registry:  registry,
		planner:   planner,
		loop:      loop,
		log:       log,
		streamCfg: streamCfg,
		llmCfg:    llmCfg,
		history:   history,
	}
}

// WithNotifier attaches an optional Slack notifier for run failures.
// The notifier is nil-safe, so a nil service simply disables delivery.
func (r *Runner) WithNotifier(notifier *slack.Service) *Runner {
	r.notifier = notifier
	return r
}

// RunAgent processes one run to a terminal state. It never returns an
// error: every failure is folded into the run row and the event log.
func (r *Runner) RunAgent(ctx context.Context, runID uuid.UUID) {
	logger := slog.Default().With("run_id", runID)
	pub := stream.NewPublisher(r.log, runID.String(), r.streamCfg)

	run, err := r.services.Runs.GetRunByID(ctx, runID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			logger.Error("Run not found, nothing to execute")
			_ = pub.Error(ctx, ErrCodeRunNotFound, fmt.Sprintf("run %s does not exist", runID))
			return
		}
		logger.Error("Failed to load run", "error", err)
		_ = pub.Error(ctx, ErrCodeWorkerException, err.Error())
		return
	}
	logger = logger.With("tenant_id", run.TenantID)

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Panic in run execution", "panic", rec)
			r.failRun(pub, run, ErrCodeWorkerException, fmt.Sprintf("panic: %v", rec), models.RunStatusFailed)
		}
	}()

	if run.Status == models.RunStatusPending {
		if err := r.services.Runs.StartRun(ctx, run.ID); err != nil {
			logger.Error("Failed to start run", "error", err)
			r.failRun(pub, run, ErrCodeWorkerException, err.Error(), models.RunStatusFailed)
			return
		}
	}
	_ = pub.Status(ctx, "starting")

	assistant, err := r.services.Assistants.GetAssistant(ctx, run.TenantID, run.AssistantID)
	if err != nil {
		logger.Error("Assistant not found for run", "assistant_id", run.AssistantID, "error", err)
		r.failRun(pub, run, ErrCodeAssistantNotFound,
			fmt.Sprintf("assistant %s not found", run.AssistantID), models.RunStatusFailed)
		return
	}

	total := run.BudgetTokens
	if total <= 0 {
		total = run.Profile.DefaultBudget()
	}
	b := budget.NewManager(total)

	allowed := r.registry.GetAllowedTools(tools.AllowedToolsFilter{
		Profile:   run.Profile,
		Providers: assistant.Integrations,
	})
	logger.Info("Resolved allowed tools", "count", len(allowed), "profile", run.Profile)

	history, err := r.loadHistory(ctx, run)
	if err != nil {
		logger.Warn("Failed to load conversation history, continuing without", "error", err)
	}

	rc := &agent.RunContext{
		RunID:          run.ID,
		TenantID:       run.TenantID,
		AssistantID:    run.AssistantID,
		ConversationID: run.ConversationID,
		Message:        run.InputText,
		SystemPrompt:   assistant.SystemPrompt,
		History:        history,
		CollectionIDs:  assistant.CollectionIDs,
		Integrations:   assistant.Integrations,
		Profile:        run.Profile,
		Budget:         b,
		AllowedTools:   allowed,
		Delegations:    &tools.DelegationState{},
	}
	if run.Profile != models.ProfileReactive {
		rc.Plan = r.planner.BuildPlan(ctx, run.ID.String(), run.Profile, run.InputText)
	}

	outcome := r.consume(ctx, pub, r.loop.Run(ctx, rc))
	if outcome.errCode != "" {
		r.failRun(pub, run, outcome.errCode, outcome.errMessage, models.RunStatusFailed)
		return
	}

	response := outcome.response
	if disclaimer, needed := agent.EnsureSourceCoverage(response, run.Profile, outcome.citations); needed {
		response += disclaimer
		_ = pub.Token(ctx, disclaimer)
	}

	if _, err := r.services.Messages.AppendAssistantMessage(ctx,
		run.TenantID, run.ConversationID, run.ID,
		response, outcome.citations, outcome.blocks, outcome.result.TokensOutput,
	); err != nil {
		logger.Error("Failed to persist assistant message", "error", err)
		r.failRun(pub, run, ErrCodeWorkerException, err.Error(), models.RunStatusFailed)
		return
	}

	if err := r.services.Usage.RecordChatUsage(ctx, run.TenantID,
		outcome.result.TokensInput, outcome.result.TokensOutput); err != nil {
		logger.Warn("Failed to record chat usage", "error", err)
	}

	if err := r.services.Runs.CompleteRun(ctx, run.ID, models.RunCompletion{
		OutputText:            response,
		TokensInput:           outcome.result.TokensInput,
		TokensOutput:          outcome.result.TokensOutput,
		ToolRounds:            outcome.result.ToolRounds,
		BudgetTokensRemaining: b.Remaining(),
	}); err != nil {
		logger.Error("Failed to complete run", "error", err)
		r.failRun(pub, run, ErrCodeWorkerException, err.Error(), models.RunStatusFailed)
		return
	}

	r.services.Traces.RecordLLMTrace(ctx, models.LLMTrace{
		TenantID:         &run.TenantID,
		RunID:            &run.ID,
		Model:            r.llmCfg.Model,
		Provider:         r.llmCfg.Provider,
		PromptTokens:     outcome.result.TokensInput,
		CompletionTokens: outcome.result.TokensOutput,
	})
	r.services.Audit.LogAudit(ctx, services.AuditEntry{
		TenantID:   &run.TenantID,
		RunID:      &run.ID,
		Action:     "run.completed",
		EntityType: "run",
		EntityID:   run.ID.String(),
		Message:    "agent run completed",
		Detail: map[string]any{
			"tokens_input":  outcome.result.TokensInput,
			"tokens_output": outcome.result.TokensOutput,
			"tool_rounds":   outcome.result.ToolRounds,
		},
	})

	_ = pub.Done(ctx, stream.DoneData{
		TokensInput:    outcome.result.TokensInput,
		TokensOutput:   outcome.result.TokensOutput,
		ToolRounds:     outcome.result.ToolRounds,
		BlocksCount:    outcome.result.BlocksCount,
		CitationsCount: outcome.result.CitationsCount,
	})
	logger.Info("Run completed",
		"tokens_input", outcome.result.TokensInput,
		"tokens_output", outcome.result.TokensOutput,
		"tool_rounds", outcome.result.ToolRounds)
}

// loopOutcome aggregates everything the worker gathers while consuming
// the loop's event stream.
type loopOutcome struct {
	response   string
	citations  []models.Citation
	blocks     []models.Block
	result     *agent.Result
	errCode    string
	errMessage string
}

// consume relays loop events to the publisher, batching token deltas so
// the log is not written once per token.
func (r *Runner) consume(ctx context.Context, pub *stream.Publisher, events <-chan agent.Event) *loopOutcome {
	outcome := &loopOutcome{result: &agent.Result{}}

	var full strings.Builder
	var deltaBuf strings.Builder
	ticker := time.NewTicker(r.streamCfg.DeltaBatchInterval)
	defer ticker.Stop()

	flush := func() {
		if deltaBuf.Len() == 0 {
			return
		}
		_ = pub.Token(ctx, deltaBuf.String())
		deltaBuf.Reset()
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				flush()
				outcome.response = full.String()
				return outcome
			}
			switch ev.Type {
			case agent.EventPlan:
				_ = pub.Plan(ctx, ev.Plan)
			case agent.EventStatus:
				_ = pub.Status(ctx, ev.Status)
			case agent.EventToken:
				full.WriteString(ev.Text)
				deltaBuf.WriteString(ev.Text)
			case agent.EventTool:
				detail := map[string]any{}
				if ev.ToolError != "" {
					detail["error"] = ev.ToolError
				}
				_ = pub.Tool(ctx, ev.Tool, ev.ToolPhase, detail)
			case agent.EventBlock:
				outcome.blocks = append(outcome.blocks, *ev.Block)
				_ = pub.Block(ctx, ev.Block)
			case agent.EventCitations:
				outcome.citations = ev.Citations
				_ = pub.Citations(ctx, ev.Citations)
			case agent.EventDone:
				outcome.result = ev.Done
			case agent.EventError:
				flush()
				outcome.errCode = ev.ErrorCode
				outcome.errMessage = ev.ErrorMessage
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (r *Runner) loadHistory(ctx context.Context, run *models.Run) ([]llm.ConversationMessage, error) {
	msgs, err := r.services.Messages.ListRecentMessages(ctx, run.TenantID, run.ConversationID, r.history)
	if err != nil {
		return nil, err
	}
	history := make([]llm.ConversationMessage, 0, len(msgs))
	for _, m := range msgs {
		// The current turn's user message is persisted at enqueue time;
		// the loop appends it itself, so skip it here.
		if m.RunID != nil && *m.RunID == run.ID {
			continue
		}
		history = append(history, llm.ConversationMessage{Role: m.Role, Content: m.Content})
	}
	return history, nil
}

// failRun drives a run to a terminal failure state and emits the error
// event. Persistence failures are logged, never re-raised: the event
// must still reach the stream.
func (r *Runner) failRun(pub *stream.Publisher, run *models.Run, code, message string, status models.RunStatus) {
	if status == "" {
		status = models.RunStatusFailed
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.services.Runs.FailRun(ctx, run.ID, code, message, status); err != nil {
		slog.Error("Failed to mark run failed", "run_id", run.ID, "code", code, "error", err)
	}
	r.services.Audit.LogAudit(ctx, services.AuditEntry{
		TenantID:   &run.TenantID,
		RunID:      &run.ID,
		Action:     "run.failed",
		EntityType: "run",
		EntityID:   run.ID.String(),
		Level:      models.AuditLevelError,
		Message:    message,
		Detail:     map[string]any{"error_code": code},
	})
	if err := pub.Error(ctx, code, message); err != nil {
		slog.Error("Failed to emit error event", "run_id", run.ID, "error", err)
	}
	r.notifier.NotifyRunFailed(ctx, slack.RunFailedInput{
		RunID:        run.ID.String(),
		Status:       string(status),
		ErrorCode:    code,
		ErrorMessage: message,
	})
}
