package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-ai/maestro/pkg/models"
)

type failingAuditStore struct{}

func (failingAuditStore) Insert(context.Context, *models.AuditLog) error {
	return errors.New("connection refused")
}

func TestAuditService_LogAudit(t *testing.T) {
	store := NewMemoryAuditStore()
	svc := NewAuditService(store, nil)
	runID := uuid.New()

	svc.LogAudit(context.Background(), AuditEntry{
		RunID:   &runID,
		Action:  "run_started",
		Level:   models.AuditLevelInfo,
		Message: "claimed by worker 3",
	})

	entries := store.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "run_started", entries[0].Action)
	assert.Equal(t, models.AuditLevelInfo, entries[0].Level)
	assert.NotEqual(t, uuid.Nil, entries[0].ID)
}

func TestAuditService_FailureDoesNotPropagate(t *testing.T) {
	svc := NewAuditService(failingAuditStore{}, nil)

	// Must not panic or surface the store error
	svc.LogAudit(context.Background(), AuditEntry{Action: "run_failed"})
	svc.LogAudit(context.Background(), AuditEntry{}) // empty action dropped
}

func TestTraceService_TotalIsComputed(t *testing.T) {
	store := NewMemoryTraceStore()
	svc := NewTraceService(store, nil)

	svc.RecordLLMTrace(context.Background(), models.LLMTrace{
		Model:            "gpt-4o-mini",
		Provider:         "openai",
		PromptTokens:     120,
		CompletionTokens: 45,
		TotalTokens:      999, // caller value is ignored
	})

	traces := store.Traces()
	require.Len(t, traces, 1)
	assert.Equal(t, 165, traces[0].TotalTokens)
	assert.Equal(t, "success", traces[0].Status)
}

func TestMessageService_HistoryWindow(t *testing.T) {
	store := NewMemoryMessageStore()
	svc := NewMessageService(store)
	ctx := context.Background()

	tenantID := uuid.New()
	conversationID := uuid.New()
	runID := uuid.New()

	_, err := svc.AppendUserMessage(ctx, tenantID, conversationID, runID, "first question")
	require.NoError(t, err)
	_, err = svc.AppendAssistantMessage(ctx, tenantID, conversationID, runID, "first answer",
		[]models.Citation{{DocumentFilename: "guide.pdf", PageNumber: 3}}, nil, 12)
	require.NoError(t, err)
	_, err = svc.AppendUserMessage(ctx, tenantID, conversationID, runID, "second question")
	require.NoError(t, err)

	msgs, err := svc.ListRecentMessages(ctx, tenantID, conversationID, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	// Chronological order, last n kept
	assert.Equal(t, "first answer", msgs[0].Content)
	assert.Equal(t, "second question", msgs[1].Content)
	assert.Equal(t, models.RoleAssistant, msgs[0].Role)
	require.Len(t, msgs[0].Citations, 1)
	assert.Equal(t, "guide.pdf", msgs[0].Citations[0].DocumentFilename)
}

func TestUsageService_RecordChatUsage(t *testing.T) {
	store := NewMemoryUsageStore()
	svc := NewUsageService(store)
	tenantID := uuid.New()

	require.NoError(t, svc.RecordChatUsage(context.Background(), tenantID, 300, 120))
	err := svc.RecordChatUsage(context.Background(), uuid.Nil, 1, 1)
	assert.True(t, IsValidationError(err))

	records := store.Records()
	require.Len(t, records, 1)
	assert.Equal(t, tenantID, records[0].TenantID)
	assert.Equal(t, 300, records[0].TokensInput)
	assert.Equal(t, 120, records[0].TokensOutput)
}

func TestAssistantService_Get(t *testing.T) {
	store := NewMemoryAssistantStore()
	svc := NewAssistantService(store)

	a := &models.Assistant{
		ID:           uuid.New(),
		TenantID:     uuid.New(),
		Name:         "Support",
		SystemPrompt: "You help with support tickets.",
		Profile:      models.ProfilePro,
	}
	store.Put(a)

	got, err := svc.GetAssistant(context.Background(), a.TenantID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Support", got.Name)

	_, err = svc.GetAssistant(context.Background(), uuid.New(), a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
