package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/maestro-ai/maestro/pkg/models"
)

// TraceService appends per-call LLM telemetry. Like audit writes, trace
// writes never block the run lifecycle.
type TraceService struct {
	store  TraceStore
	logger *slog.Logger
}

// NewTraceService creates a new TraceService
func NewTraceService(store TraceStore, logger *slog.Logger) *TraceService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TraceService{store: store, logger: logger}
}

// RecordLLMTrace appends a trace row. TotalTokens is always computed as
// prompt + completion regardless of the caller's value.
func (s *TraceService) RecordLLMTrace(ctx context.Context, trace models.LLMTrace) {
	trace.ID = uuid.New()
	trace.TotalTokens = trace.PromptTokens + trace.CompletionTokens
	trace.CreatedAt = time.Now()
	if trace.Status == "" {
		trace.Status = "success"
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.store.Insert(writeCtx, &trace); err != nil {
		s.logger.Warn("failed to write llm trace",
			slog.String("model", trace.Model),
			slog.String("error", err.Error()))
	}
}

// PurgeOldTraces removes trace rows older than retention.
func (s *TraceService) PurgeOldTraces(ctx context.Context, retention time.Duration) (int64, error) {
	count, err := s.store.DeleteBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to purge old traces: %w", err)
	}
	return count, nil
}

// PgTraceStore is the PostgreSQL TraceStore.
type PgTraceStore struct {
	db *sql.DB
}

// NewPgTraceStore creates a PostgreSQL-backed trace store.
func NewPgTraceStore(db *sql.DB) *PgTraceStore {
	return &PgTraceStore{db: db}
}

func (s *PgTraceStore) Insert(ctx context.Context, trace *models.LLMTrace) error {
	metadata, err := json.Marshal(orEmptyMap(trace.RequestMetadata))
	if err != nil {
		return fmt.Errorf("failed to marshal request metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO llm_traces (id, tenant_id, run_id, model, provider,
			prompt_tokens, completion_tokens, total_tokens, latency_ms,
			status, error_message, request_metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		trace.ID, trace.TenantID, trace.RunID, trace.Model, trace.Provider,
		trace.PromptTokens, trace.CompletionTokens, trace.TotalTokens, trace.LatencyMs,
		trace.Status, trace.ErrorMessage, metadata, trace.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert llm trace: %w", err)
	}
	return nil
}

func (s *PgTraceStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM llm_traces WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old llm traces: %w", err)
	}
	return res.RowsAffected()
}
