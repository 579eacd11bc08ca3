package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/maestro-ai/maestro/pkg/models"
)

// AssistantService reads assistant configuration. Assistants are managed
// by the platform's admin surface; the runtime only consumes them.
type AssistantService struct {
	store AssistantStore
}

// NewAssistantService creates a new AssistantService
func NewAssistantService(store AssistantStore) *AssistantService {
	return &AssistantService{store: store}
}

// GetAssistant retrieves an assistant scoped to its tenant.
func (s *AssistantService) GetAssistant(ctx context.Context, tenantID, assistantID uuid.UUID) (*models.Assistant, error) {
	if tenantID == uuid.Nil {
		return nil, NewValidationError("tenant_id", "required")
	}
	return s.store.Get(ctx, tenantID, assistantID)
}

// PgAssistantStore is the PostgreSQL AssistantStore.
type PgAssistantStore struct {
	db *sql.DB
}

// NewPgAssistantStore creates a PostgreSQL-backed assistant store.
func NewPgAssistantStore(db *sql.DB) *PgAssistantStore {
	return &PgAssistantStore{db: db}
}

func (s *PgAssistantStore) Get(ctx context.Context, tenantID, id uuid.UUID) (*models.Assistant, error) {
	var (
		a            models.Assistant
		collections  []byte
		integrations []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, system_prompt, profile, collection_ids, integrations, created_at
		FROM assistants WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	).Scan(&a.ID, &a.TenantID, &a.Name, &a.SystemPrompt, &a.Profile, &collections, &integrations, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get assistant: %w", err)
	}

	if len(collections) > 0 {
		if err := json.Unmarshal(collections, &a.CollectionIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal collection_ids: %w", err)
		}
	}
	if len(integrations) > 0 {
		if err := json.Unmarshal(integrations, &a.Integrations); err != nil {
			return nil, fmt.Errorf("failed to unmarshal integrations: %w", err)
		}
	}
	return &a, nil
}
