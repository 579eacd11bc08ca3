package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/maestro-ai/maestro/pkg/models"
)

// UsageService appends per-tenant chat usage rows for billing.
type UsageService struct {
	store UsageStore
}

// NewUsageService creates a new UsageService
func NewUsageService(store UsageStore) *UsageService {
	return &UsageService{store: store}
}

// RecordChatUsage appends an append-only usage row for the tenant.
func (s *UsageService) RecordChatUsage(ctx context.Context, tenantID uuid.UUID, tokensInput, tokensOutput int) error {
	if tenantID == uuid.Nil {
		return NewValidationError("tenant_id", "required")
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec := &models.UsageRecord{
		ID:           uuid.New(),
		TenantID:     tenantID,
		TokensInput:  tokensInput,
		TokensOutput: tokensOutput,
		CreatedAt:    time.Now(),
	}
	if err := s.store.Insert(writeCtx, rec); err != nil {
		return fmt.Errorf("failed to record chat usage: %w", err)
	}
	return nil
}

// PgUsageStore is the PostgreSQL UsageStore.
type PgUsageStore struct {
	db *sql.DB
}

// NewPgUsageStore creates a PostgreSQL-backed usage store.
func NewPgUsageStore(db *sql.DB) *PgUsageStore {
	return &PgUsageStore{db: db}
}

func (s *PgUsageStore) Insert(ctx context.Context, rec *models.UsageRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_records (id, tenant_id, tokens_input, tokens_output, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.TenantID, rec.TokensInput, rec.TokensOutput, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}
