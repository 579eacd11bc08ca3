package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/maestro-ai/maestro/pkg/budget"
	"github.com/maestro-ai/maestro/pkg/masking"
	"github.com/maestro-ai/maestro/pkg/models"
)

// Invocation carries everything a handler may need for one tool call.
// Handlers pick the fields their category uses.
type Invocation struct {
	Args           map[string]any
	Query          string // extracted from Args["query"] for retrieval tools
	TenantID       uuid.UUID
	AssistantID    uuid.UUID
	ConversationID uuid.UUID
	CollectionIDs  []uuid.UUID
	Citations      []models.Citation
	Budget         *budget.Manager
	Profile        models.Profile
	UserContext    map[string]any
	Delegations    *DelegationState
}

// Dispatcher routes tool calls from the LLM to registered handlers with a
// hard per-call deadline.
type Dispatcher struct {
	registry *Registry
	masker   *masking.Masker
}

// NewDispatcher creates a dispatcher over a sealed registry.
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// WithMasker enables secret masking on tool output that carries content
// from external systems.
func (d *Dispatcher) WithMasker(m *masking.Masker) *Dispatcher {
	d.masker = m
	return d
}

// maskOutput redacts secrets from output categories that relay external
// content. Document chunks and UI blocks are tenant-owned data and pass
// through unchanged.
func (d *Dispatcher) maskOutput(output Output) Output {
	if d.masker == nil {
		return output
	}
	switch out := output.(type) {
	case WebSearchOutput:
		out.Formatted = d.masker.MaskText(out.Formatted)
		for i := range out.Results {
			out.Results[i].Content = d.masker.MaskText(out.Results[i].Content)
		}
		return out
	case CalendarOutput:
		out.Data = d.masker.MaskMap(out.Data)
		return out
	case RawOutput:
		out.Data = d.masker.MaskMap(out.Data)
		return out
	default:
		return output
	}
}

// ExecuteToolCall dispatches one call. It never returns an error: every
// failure mode (unknown tool, timeout, handler error) is folded into the
// result so the loop can feed it back to the LLM.
func (d *Dispatcher) ExecuteToolCall(ctx context.Context, toolName string, args map[string]any, inv Invocation) *ExecutionResult {
	def, handler, ok := d.registry.Get(toolName)
	if !ok {
		return &ExecutionResult{
			ToolName: toolName,
			Success:  false,
			Error:    fmt.Sprintf("Unknown tool: %s", toolName),
		}
	}

	result := &ExecutionResult{ToolName: toolName, Category: def.Category}

	if args == nil {
		args = map[string]any{}
	}
	inv.Args = args
	if q, ok := args["query"].(string); ok {
		inv.Query = q
	}

	// BLOCK with no handler: the arguments are the block payload.
	if handler == nil {
		if def.Category == CategoryBlock {
			result.Success = true
			block := &models.Block{ID: uuid.NewString(), Type: def.BlockType, Payload: args}
			result.Block = block
			result.Output = BlockOutput{ID: block.ID, Type: block.Type, Payload: args}
			return result
		}
		result.Error = fmt.Sprintf("tool %s has no handler", toolName)
		return result
	}

	timeout := time.Duration(def.TimeoutSeconds) * time.Second
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type handlerReturn struct {
		output Output
		err    error
	}
	done := make(chan handlerReturn, 1)
	go func() {
		output, err := handler(callCtx, inv)
		done <- handlerReturn{output, err}
	}()

	select {
	case <-callCtx.Done():
		// A cancelled run context is not the tool's fault; only the
		// per-call deadline counts as a timeout in the transcript.
		if ctx.Err() != nil {
			result.Error = fmt.Sprintf("Tool call cancelled: %s", ctx.Err())
		} else {
			result.Error = fmt.Sprintf("Tool timed out after %ds", def.TimeoutSeconds)
		}
		return result
	case ret := <-done:
		if ret.err != nil {
			result.Error = ret.err.Error()
			return result
		}
		result.Success = true
		result.Output = d.maskOutput(ret.output)
		if block, ok := ret.output.(BlockOutput); ok {
			result.Block = &models.Block{ID: block.ID, Type: block.Type, Payload: block.Payload}
		}
		return result
	}
}
