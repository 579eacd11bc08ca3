package models

import (
	"time"

	"github.com/google/uuid"
)

// LLMTrace records per-call LLM telemetry. Append-only.
type LLMTrace struct {
	ID               uuid.UUID      `json:"id"`
	TenantID         *uuid.UUID     `json:"tenant_id,omitempty"`
	RunID            *uuid.UUID     `json:"run_id,omitempty"`
	Model            string         `json:"model"`
	Provider         string         `json:"provider"`
	PromptTokens     int            `json:"prompt_tokens"`
	CompletionTokens int            `json:"completion_tokens"`
	TotalTokens      int            `json:"total_tokens"`
	LatencyMs        int64          `json:"latency_ms,omitempty"`
	Status           string         `json:"status"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	RequestMetadata  map[string]any `json:"request_metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// UsageRecord is an append-only per-tenant chat usage row.
type UsageRecord struct {
	ID           uuid.UUID `json:"id"`
	TenantID     uuid.UUID `json:"tenant_id"`
	TokensInput  int       `json:"tokens_input"`
	TokensOutput int       `json:"tokens_output"`
	CreatedAt    time.Time `json:"created_at"`
}
