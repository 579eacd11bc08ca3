package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/maestro-ai/maestro/pkg/models"
)

// RunStore persists runs. Guarded updates return false when the status
// predicate did not match, letting the service map the miss to the right
// sentinel error.
type RunStore interface {
	Insert(ctx context.Context, run *models.Run) error
	Get(ctx context.Context, tenantID, id uuid.UUID) (*models.Run, error)
	GetAnyTenant(ctx context.Context, id uuid.UUID) (*models.Run, error)
	List(ctx context.Context, filters models.RunFilters) ([]*models.Run, error)

	// MarkRunning transitions PENDING→RUNNING and sets started_at.
	MarkRunning(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	// MarkCompleted transitions RUNNING→COMPLETED with the final outputs.
	MarkCompleted(ctx context.Context, id uuid.UUID, c models.RunCompletion, at time.Time) (bool, error)
	// MarkTerminal transitions PENDING/RUNNING→status with error fields.
	MarkTerminal(ctx context.Context, id uuid.UUID, status models.RunStatus, errorCode, errorMessage string, at time.Time) (bool, error)

	// ClaimNextPending atomically claims the oldest PENDING run and moves
	// it to RUNNING. Returns nil when no run is available.
	ClaimNextPending(ctx context.Context, at time.Time) (*models.Run, error)
	// FindStuck returns RUNNING runs with started_at before the threshold.
	FindStuck(ctx context.Context, runningSinceBefore time.Time) ([]*models.Run, error)
	// DeleteTerminalBefore removes terminal runs completed before the
	// threshold. For retention cleanup.
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error)
}

// AssistantStore reads assistant configuration. Read-only in the runtime.
type AssistantStore interface {
	Get(ctx context.Context, tenantID, id uuid.UUID) (*models.Assistant, error)
}

// MessageStore persists conversation messages.
type MessageStore interface {
	Insert(ctx context.Context, msg *models.Message) error
	ListRecent(ctx context.Context, tenantID, conversationID uuid.UUID, limit int) ([]*models.Message, error)
}

// AuditStore appends audit log rows.
type AuditStore interface {
	Insert(ctx context.Context, entry *models.AuditLog) error
}

// TraceStore appends LLM trace rows.
type TraceStore interface {
	Insert(ctx context.Context, trace *models.LLMTrace) error
	// DeleteBefore removes trace rows created before the threshold.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// UsageStore appends per-tenant usage rows.
type UsageStore interface {
	Insert(ctx context.Context, rec *models.UsageRecord) error
}
