package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditLevel classifies audit entries.
type AuditLevel string

// Audit levels.
const (
	AuditLevelInfo  AuditLevel = "info"
	AuditLevelWarn  AuditLevel = "warn"
	AuditLevelError AuditLevel = "error"
)

// AuditLog is an immutable record of an action taken by or on behalf of a
// tenant. Append-only; never updated or deleted by the runtime.
type AuditLog struct {
	ID         uuid.UUID      `json:"id"`
	TenantID   *uuid.UUID     `json:"tenant_id,omitempty"`
	RunID      *uuid.UUID     `json:"run_id,omitempty"`
	UserID     *uuid.UUID     `json:"user_id,omitempty"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	Level      AuditLevel     `json:"level"`
	Message    string         `json:"message,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
