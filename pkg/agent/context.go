// Package agent implements the planner and the multi-round tool loop
// that drive a single run from user message to final response.
package agent

import (
	"github.com/google/uuid"

	"github.com/maestro-ai/maestro/pkg/budget"
	"github.com/maestro-ai/maestro/pkg/llm"
	"github.com/maestro-ai/maestro/pkg/models"
	"github.com/maestro-ai/maestro/pkg/tools"
)

// RunContext carries everything the loop needs for one run. It is built
// by the worker and owned by a single goroutine for the run's lifetime.
type RunContext struct {
	RunID          uuid.UUID
	TenantID       uuid.UUID
	AssistantID    uuid.UUID
	ConversationID uuid.UUID

	// Message is the user's input for this run.
	Message string

	// SystemPrompt is the assistant's configured persona.
	SystemPrompt string

	// History is the prior conversation, oldest first.
	History []llm.ConversationMessage

	CollectionIDs []uuid.UUID
	Integrations  []string

	Profile models.Profile
	Budget  *budget.Manager

	// Plan is nil for reactive runs.
	Plan *models.Plan

	// AllowedTools is the registry slice resolved for this run.
	AllowedTools []*tools.Definition

	// UserContext carries per-user data for calendar tools (timezone,
	// principal email).
	UserContext map[string]any

	// Delegations tracks the per-run delegation count.
	Delegations *tools.DelegationState
}

// invocation builds the dispatcher invocation for a tool call, sharing
// the run's budget and delegation state.
func (rc *RunContext) invocation(citations []models.Citation) tools.Invocation {
	return tools.Invocation{
		TenantID:       rc.TenantID,
		AssistantID:    rc.AssistantID,
		ConversationID: rc.ConversationID,
		CollectionIDs:  rc.CollectionIDs,
		Citations:      citations,
		Budget:         rc.Budget,
		Profile:        rc.Profile,
		UserContext:    rc.UserContext,
		Delegations:    rc.Delegations,
	}
}
