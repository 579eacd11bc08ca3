package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/maestro-ai/maestro/pkg/models"
)

const runColumns = `id, tenant_id, assistant_id, conversation_id, profile, status,
	input_text, output_text, tokens_input, tokens_output, tool_rounds,
	budget_tokens, budget_tokens_remaining, error_code, error_message,
	metadata, started_at, completed_at, created_at`

// PgRunStore is the PostgreSQL RunStore.
type PgRunStore struct {
	db *sql.DB
}

// NewPgRunStore creates a PostgreSQL-backed run store.
func NewPgRunStore(db *sql.DB) *PgRunStore {
	return &PgRunStore{db: db}
}

func (s *PgRunStore) Insert(ctx context.Context, run *models.Run) error {
	metadata, err := json.Marshal(orEmptyMap(run.Metadata))
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, tenant_id, assistant_id, conversation_id, profile, status,
			input_text, tokens_input, tokens_output, tool_rounds,
			budget_tokens, budget_tokens_remaining, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		run.ID, run.TenantID, run.AssistantID, run.ConversationID, run.Profile, run.Status,
		run.InputText, run.TokensInput, run.TokensOutput, run.ToolRounds,
		run.BudgetTokens, run.BudgetTokensRemaining, metadata, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

func (s *PgRunStore) Get(ctx context.Context, tenantID, id uuid.UUID) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	)
	return scanRun(row)
}

// GetAnyTenant looks a run up by id alone. Internal use only (workers and
// the watchdog already hold the run id from a tenant-scoped path).
func (s *PgRunStore) GetAnyTenant(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = $1`,
		id,
	)
	return scanRun(row)
}

func (s *PgRunStore) List(ctx context.Context, filters models.RunFilters) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE tenant_id = $1`
	args := []any{filters.TenantID}

	if filters.ConversationID != nil {
		args = append(args, *filters.ConversationID)
		query += fmt.Sprintf(" AND conversation_id = $%d", len(args))
	}
	if filters.Status != "" {
		args = append(args, filters.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, filters.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

func (s *PgRunStore) MarkRunning(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = $1, started_at = $2
		WHERE id = $3 AND status = $4`,
		models.RunStatusRunning, at, id, models.RunStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark run running: %w", err)
	}
	return affected(res)
}

func (s *PgRunStore) MarkCompleted(ctx context.Context, id uuid.UUID, c models.RunCompletion, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = $1, output_text = $2, tokens_input = $3,
			tokens_output = $4, tool_rounds = $5, budget_tokens_remaining = $6,
			completed_at = $7
		WHERE id = $8 AND status = $9`,
		models.RunStatusCompleted, c.OutputText, c.TokensInput,
		c.TokensOutput, c.ToolRounds, c.BudgetTokensRemaining,
		at, id, models.RunStatusRunning,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark run completed: %w", err)
	}
	return affected(res)
}

func (s *PgRunStore) MarkTerminal(ctx context.Context, id uuid.UUID, status models.RunStatus, errorCode, errorMessage string, at time.Time) (bool, error) {
	// Guarded by non-terminal statuses so concurrent failers cannot
	// overwrite an earlier terminal state.
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = $1, error_code = $2, error_message = $3, completed_at = $4
		WHERE id = $5 AND status IN ($6, $7)`,
		status, errorCode, errorMessage, at,
		id, models.RunStatusPending, models.RunStatusRunning,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark run terminal: %w", err)
	}
	return affected(res)
}

// ClaimNextPending claims the oldest PENDING run FIFO using
// FOR UPDATE SKIP LOCKED so concurrent workers never block each other.
func (s *PgRunStore) ClaimNextPending(ctx context.Context, at time.Time) (*models.Run, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	row := tx.QueryRowContext(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE status = $1
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1`,
		models.RunStatusPending,
	)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil // queue empty
		}
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE runs SET status = $1, started_at = $2 WHERE id = $3`,
		models.RunStatusRunning, at, run.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to claim run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	run.Status = models.RunStatusRunning
	run.StartedAt = &at
	return run, nil
}

func (s *PgRunStore) FindStuck(ctx context.Context, runningSinceBefore time.Time) ([]*models.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE status = $1 AND started_at IS NOT NULL AND started_at < $2`,
		models.RunStatusRunning, runningSinceBefore,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query stuck runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

func (s *PgRunStore) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM runs
		WHERE status IN ($1, $2, $3, $4) AND completed_at IS NOT NULL AND completed_at < $5`,
		models.RunStatusCompleted, models.RunStatusFailed,
		models.RunStatusAborted, models.RunStatusTimeout,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old runs: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.Run, error) {
	var (
		run       models.Run
		metadata  []byte
		started   sql.NullTime
		completed sql.NullTime
	)
	err := row.Scan(
		&run.ID, &run.TenantID, &run.AssistantID, &run.ConversationID,
		&run.Profile, &run.Status,
		&run.InputText, &run.OutputText, &run.TokensInput, &run.TokensOutput,
		&run.ToolRounds, &run.BudgetTokens, &run.BudgetTokensRemaining,
		&run.ErrorCode, &run.ErrorMessage,
		&metadata, &started, &completed, &run.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &run.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run metadata: %w", err)
		}
	}
	if started.Valid {
		run.StartedAt = &started.Time
	}
	if completed.Valid {
		run.CompletedAt = &completed.Time
	}
	return &run, nil
}

func scanRuns(rows *sql.Rows) ([]*models.Run, error) {
	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
