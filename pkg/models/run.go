// Package models contains the shared domain types for the agent runtime:
// runs, assistants, plans, conversation messages, and telemetry records.
package models

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of an agent run.
type RunStatus string

// Run lifecycle states. Transitions are monotonic:
// pending → running → exactly one terminal state.
const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusAborted   RunStatus = "aborted"
	RunStatusTimeout   RunStatus = "timeout"
)

// IsTerminal reports whether the status is a terminal state.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusAborted, RunStatusTimeout:
		return true
	}
	return false
}

// Run is one agent execution from user turn to final response.
type Run struct {
	ID                    uuid.UUID      `json:"id"`
	TenantID              uuid.UUID      `json:"tenant_id"`
	AssistantID           uuid.UUID      `json:"assistant_id"`
	ConversationID        uuid.UUID      `json:"conversation_id"`
	Profile               Profile        `json:"profile"`
	Status                RunStatus      `json:"status"`
	InputText             string         `json:"input_text"`
	OutputText            string         `json:"output_text,omitempty"`
	TokensInput           int            `json:"tokens_input"`
	TokensOutput          int            `json:"tokens_output"`
	ToolRounds            int            `json:"tool_rounds"`
	BudgetTokens          int            `json:"budget_tokens"`
	BudgetTokensRemaining int            `json:"budget_tokens_remaining"`
	ErrorCode             string         `json:"error_code,omitempty"`
	ErrorMessage          string         `json:"error_message,omitempty"`
	Metadata              map[string]any `json:"metadata,omitempty"`
	StartedAt             *time.Time     `json:"started_at,omitempty"`
	CompletedAt           *time.Time     `json:"completed_at,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
}

// CreateRunRequest contains fields for creating a new run.
type CreateRunRequest struct {
	TenantID       uuid.UUID      `json:"tenant_id"`
	AssistantID    uuid.UUID      `json:"assistant_id"`
	ConversationID uuid.UUID      `json:"conversation_id"`
	InputText      string         `json:"input_text"`
	Profile        Profile        `json:"profile"`
	BudgetTokens   int            `json:"budget_tokens,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// RunFilters contains filtering options for listing runs.
// TenantID is mandatory — every run query is tenant-scoped.
type RunFilters struct {
	TenantID       uuid.UUID
	ConversationID *uuid.UUID
	Status         RunStatus
	Limit          int
}

// RunCompletion carries the final outputs written by complete_run.
type RunCompletion struct {
	OutputText            string
	TokensInput           int
	TokensOutput          int
	ToolRounds            int
	BudgetTokensRemaining int
}
