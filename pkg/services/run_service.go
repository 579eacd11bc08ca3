package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/maestro-ai/maestro/pkg/models"
)

// RunService manages the run lifecycle: creation, claiming, and the
// monotonic status transitions PENDING → RUNNING → terminal.
type RunService struct {
	store RunStore
}

// NewRunService creates a new RunService
func NewRunService(store RunStore) *RunService {
	return &RunService{store: store}
}

// CreateRun inserts a new PENDING run. A non-positive budget falls back to
// the profile's default; budget_tokens_remaining starts equal to the budget.
func (s *RunService) CreateRun(httpCtx context.Context, req models.CreateRunRequest) (*models.Run, error) {
	if req.TenantID == uuid.Nil {
		return nil, NewValidationError("tenant_id", "required")
	}
	if req.AssistantID == uuid.Nil {
		return nil, NewValidationError("assistant_id", "required")
	}
	if req.ConversationID == uuid.Nil {
		return nil, NewValidationError("conversation_id", "required")
	}
	if req.InputText == "" {
		return nil, NewValidationError("input_text", "required")
	}

	profile := req.Profile
	if profile == "" {
		profile = models.ProfileBalanced
	}
	if !profile.Valid() {
		return nil, NewValidationError("profile", fmt.Sprintf("unknown profile %q", req.Profile))
	}

	budget := req.BudgetTokens
	if budget <= 0 {
		budget = profile.DefaultBudget()
	}

	// Use background context with timeout for critical write
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	run := &models.Run{
		ID:                    uuid.New(),
		TenantID:              req.TenantID,
		AssistantID:           req.AssistantID,
		ConversationID:        req.ConversationID,
		Profile:               profile,
		Status:                models.RunStatusPending,
		InputText:             req.InputText,
		BudgetTokens:          budget,
		BudgetTokensRemaining: budget,
		Metadata:              req.Metadata,
		CreatedAt:             time.Now(),
	}

	if err := s.store.Insert(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return run, nil
}

// StartRun atomically transitions PENDING→RUNNING and sets started_at.
// Fails loudly when the run is not PENDING.
func (s *RunService) StartRun(ctx context.Context, runID uuid.UUID) error {
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := s.store.MarkRunning(writeCtx, runID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	if !ok {
		return s.transitionMiss(writeCtx, runID)
	}
	return nil
}

// CompleteRun transitions RUNNING→COMPLETED with the final outputs and
// sets completed_at.
func (s *RunService) CompleteRun(ctx context.Context, runID uuid.UUID, c models.RunCompletion) error {
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := s.store.MarkCompleted(writeCtx, runID, c, time.Now())
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if !ok {
		return s.transitionMiss(writeCtx, runID)
	}
	return nil
}

// FailRun transitions PENDING/RUNNING→{FAILED|ABORTED|TIMEOUT} and sets
// completed_at. Idempotent: when the run is already terminal the call is a
// no-op, so the abort hook, the watchdog, and the worker can race safely —
// the first terminal state wins.
func (s *RunService) FailRun(ctx context.Context, runID uuid.UUID, errorCode, errorMessage string, status models.RunStatus) error {
	if status == "" {
		status = models.RunStatusFailed
	}
	if !status.IsTerminal() || status == models.RunStatusCompleted {
		return NewValidationError("status", fmt.Sprintf("%q is not a failure status", status))
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := s.store.MarkTerminal(writeCtx, runID, status, errorCode, errorMessage, time.Now())
	if err != nil {
		return fmt.Errorf("failed to fail run: %w", err)
	}
	if ok {
		return nil
	}

	run, err := s.store.GetAnyTenant(writeCtx, runID)
	if err != nil {
		return err
	}
	if run.Status.IsTerminal() {
		return nil // already terminal, no-op
	}
	return fmt.Errorf("%w: run %s is %s", ErrInvalidTransition, runID, run.Status)
}

// GetRun retrieves a run scoped to its tenant.
func (s *RunService) GetRun(ctx context.Context, tenantID, runID uuid.UUID) (*models.Run, error) {
	run, err := s.store.Get(ctx, tenantID, runID)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// GetRunByID retrieves a run without tenant scoping. For internal
// consumers only (workers, watchdog); API reads go through GetRun.
func (s *RunService) GetRunByID(ctx context.Context, runID uuid.UUID) (*models.Run, error) {
	return s.store.GetAnyTenant(ctx, runID)
}

// ListRuns lists runs for a tenant with optional conversation and status
// filters, newest first.
func (s *RunService) ListRuns(ctx context.Context, filters models.RunFilters) ([]*models.Run, error) {
	if filters.TenantID == uuid.Nil {
		return nil, NewValidationError("tenant_id", "required")
	}
	if filters.Limit <= 0 {
		filters.Limit = 20
	}
	runs, err := s.store.List(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// ClaimNextPendingRun atomically claims the oldest PENDING run for this
// worker, transitioning it to RUNNING. Returns nil when the queue is empty.
func (s *RunService) ClaimNextPendingRun(ctx context.Context) (*models.Run, error) {
	claimCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	run, err := s.store.ClaimNextPending(claimCtx, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending run: %w", err)
	}
	return run, nil
}

// FindStuckRuns returns runs stuck in RUNNING longer than the threshold,
// for the watchdog.
func (s *RunService) FindStuckRuns(ctx context.Context, threshold time.Duration) ([]*models.Run, error) {
	runs, err := s.store.FindStuck(ctx, time.Now().Add(-threshold))
	if err != nil {
		return nil, fmt.Errorf("failed to find stuck runs: %w", err)
	}
	return runs, nil
}

// PurgeOldRuns removes terminal runs completed longer than retention ago.
// Idempotent and safe to run from multiple pods.
func (s *RunService) PurgeOldRuns(ctx context.Context, retention time.Duration) (int64, error) {
	count, err := s.store.DeleteTerminalBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to purge old runs: %w", err)
	}
	return count, nil
}

// transitionMiss maps a failed guarded update to ErrNotFound or
// ErrInvalidTransition depending on whether the run exists.
func (s *RunService) transitionMiss(ctx context.Context, runID uuid.UUID) error {
	run, err := s.store.GetAnyTenant(ctx, runID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: run %s is %s", ErrInvalidTransition, runID, run.Status)
}
