package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/maestro-ai/maestro/pkg/models"
)

// MessageService persists conversation messages and loads loop history.
type MessageService struct {
	store MessageStore
}

// NewMessageService creates a new MessageService
func NewMessageService(store MessageStore) *MessageService {
	return &MessageService{store: store}
}

// AppendAssistantMessage persists the final assistant turn of a run:
// content, citations, blocks, and the output token count.
func (s *MessageService) AppendAssistantMessage(ctx context.Context, tenantID, conversationID, runID uuid.UUID, content string, citations []models.Citation, blocks []models.Block, tokensOutput int) (*models.Message, error) {
	if tenantID == uuid.Nil {
		return nil, NewValidationError("tenant_id", "required")
	}
	if conversationID == uuid.Nil {
		return nil, NewValidationError("conversation_id", "required")
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := &models.Message{
		ID:             uuid.New(),
		TenantID:       tenantID,
		ConversationID: conversationID,
		RunID:          &runID,
		Role:           models.RoleAssistant,
		Content:        content,
		Citations:      citations,
		Blocks:         blocks,
		TokensOutput:   tokensOutput,
		CreatedAt:      time.Now(),
	}
	if err := s.store.Insert(writeCtx, msg); err != nil {
		return nil, fmt.Errorf("failed to append assistant message: %w", err)
	}
	return msg, nil
}

// AppendUserMessage persists the user turn that triggered a run.
func (s *MessageService) AppendUserMessage(ctx context.Context, tenantID, conversationID, runID uuid.UUID, content string) (*models.Message, error) {
	if tenantID == uuid.Nil {
		return nil, NewValidationError("tenant_id", "required")
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := &models.Message{
		ID:             uuid.New(),
		TenantID:       tenantID,
		ConversationID: conversationID,
		RunID:          &runID,
		Role:           models.RoleUser,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	if err := s.store.Insert(writeCtx, msg); err != nil {
		return nil, fmt.Errorf("failed to append user message: %w", err)
	}
	return msg, nil
}

// ListRecentMessages returns the last n messages of a conversation in
// chronological order, for the loop's history window.
func (s *MessageService) ListRecentMessages(ctx context.Context, tenantID, conversationID uuid.UUID, n int) ([]*models.Message, error) {
	if n <= 0 {
		n = 10
	}
	msgs, err := s.store.ListRecent(ctx, tenantID, conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent messages: %w", err)
	}
	return msgs, nil
}

// PgMessageStore is the PostgreSQL MessageStore.
type PgMessageStore struct {
	db *sql.DB
}

// NewPgMessageStore creates a PostgreSQL-backed message store.
func NewPgMessageStore(db *sql.DB) *PgMessageStore {
	return &PgMessageStore{db: db}
}

func (s *PgMessageStore) Insert(ctx context.Context, msg *models.Message) error {
	citations, err := json.Marshal(orEmptySlice(msg.Citations))
	if err != nil {
		return fmt.Errorf("failed to marshal citations: %w", err)
	}
	blocks, err := json.Marshal(orEmptySlice(msg.Blocks))
	if err != nil {
		return fmt.Errorf("failed to marshal blocks: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, tenant_id, conversation_id, run_id, role, content,
			citations, blocks, tokens_output, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		msg.ID, msg.TenantID, msg.ConversationID, msg.RunID, msg.Role, msg.Content,
		citations, blocks, msg.TokensOutput, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *PgMessageStore) ListRecent(ctx context.Context, tenantID, conversationID uuid.UUID, limit int) ([]*models.Message, error) {
	// Newest-first window, reversed to chronological order below.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, conversation_id, run_id, role, content,
			citations, blocks, tokens_output, created_at
		FROM messages
		WHERE tenant_id = $1 AND conversation_id = $2
		ORDER BY created_at DESC
		LIMIT $3`,
		tenantID, conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		var (
			msg       models.Message
			runID     sql.Null[uuid.UUID]
			citations []byte
			blocks    []byte
		)
		if err := rows.Scan(&msg.ID, &msg.TenantID, &msg.ConversationID, &runID,
			&msg.Role, &msg.Content, &citations, &blocks, &msg.TokensOutput, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if runID.Valid {
			msg.RunID = &runID.V
		}
		if len(citations) > 0 {
			if err := json.Unmarshal(citations, &msg.Citations); err != nil {
				return nil, fmt.Errorf("failed to unmarshal citations: %w", err)
			}
		}
		if len(blocks) > 0 {
			if err := json.Unmarshal(blocks, &msg.Blocks); err != nil {
				return nil, fmt.Errorf("failed to unmarshal blocks: %w", err)
			}
		}
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	// Reverse into chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func orEmptySlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
