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

// AuditService appends immutable audit records. Audit writes never block
// the run lifecycle: failures are logged and swallowed.
type AuditService struct {
	store  AuditStore
	logger *slog.Logger
}

// NewAuditService creates a new AuditService
func NewAuditService(store AuditStore, logger *slog.Logger) *AuditService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditService{store: store, logger: logger}
}

// AuditEntry carries the fields of a single audit append.
type AuditEntry struct {
	TenantID   *uuid.UUID
	RunID      *uuid.UUID
	UserID     *uuid.UUID
	Action     string
	EntityType string
	EntityID   string
	Detail     map[string]any
	Level      models.AuditLevel
	Message    string
}

// LogAudit appends an audit row. A failed insert is logged at Warn and
// otherwise ignored.
func (s *AuditService) LogAudit(ctx context.Context, entry AuditEntry) {
	if entry.Action == "" {
		s.logger.Warn("audit entry dropped: empty action")
		return
	}
	level := entry.Level
	if level == "" {
		level = models.AuditLevelInfo
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	row := &models.AuditLog{
		ID:         uuid.New(),
		TenantID:   entry.TenantID,
		RunID:      entry.RunID,
		UserID:     entry.UserID,
		Action:     entry.Action,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Detail:     entry.Detail,
		Level:      level,
		Message:    entry.Message,
		CreatedAt:  time.Now(),
	}
	if err := s.store.Insert(writeCtx, row); err != nil {
		s.logger.Warn("failed to write audit log",
			slog.String("action", entry.Action),
			slog.String("error", err.Error()))
	}
}

// PgAuditStore is the PostgreSQL AuditStore.
type PgAuditStore struct {
	db *sql.DB
}

// NewPgAuditStore creates a PostgreSQL-backed audit store.
func NewPgAuditStore(db *sql.DB) *PgAuditStore {
	return &PgAuditStore{db: db}
}

func (s *PgAuditStore) Insert(ctx context.Context, entry *models.AuditLog) error {
	detail, err := json.Marshal(orEmptyMap(entry.Detail))
	if err != nil {
		return fmt.Errorf("failed to marshal audit detail: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, tenant_id, run_id, user_id, action, entity_type,
			entity_id, detail, level, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID, entry.TenantID, entry.RunID, entry.UserID, entry.Action, entry.EntityType,
		entry.EntityID, detail, entry.Level, entry.Message, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}
