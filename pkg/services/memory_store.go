package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maestro-ai/maestro/pkg/models"
)

// MemoryRunStore is an in-memory RunStore for tests and local development.
// Unlike the budget manager, stores are shared across worker goroutines,
// so the memory implementations are mutex-guarded.
type MemoryRunStore struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*models.Run
}

// NewMemoryRunStore creates an empty in-memory run store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[uuid.UUID]*models.Run)}
}

func (s *MemoryRunStore) Insert(_ context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return ErrAlreadyExists
	}
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *MemoryRunStore) Get(_ context.Context, tenantID, id uuid.UUID) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (s *MemoryRunStore) GetAnyTenant(_ context.Context, id uuid.UUID) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (s *MemoryRunStore) List(_ context.Context, filters models.RunFilters) ([]*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var runs []*models.Run
	for _, run := range s.runs {
		if run.TenantID != filters.TenantID {
			continue
		}
		if filters.ConversationID != nil && run.ConversationID != *filters.ConversationID {
			continue
		}
		if filters.Status != "" && run.Status != filters.Status {
			continue
		}
		cp := *run
		runs = append(runs, &cp)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	if filters.Limit > 0 && len(runs) > filters.Limit {
		runs = runs[:filters.Limit]
	}
	return runs, nil
}

func (s *MemoryRunStore) MarkRunning(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.Status != models.RunStatusPending {
		return false, nil
	}
	run.Status = models.RunStatusRunning
	run.StartedAt = &at
	return true, nil
}

func (s *MemoryRunStore) MarkCompleted(_ context.Context, id uuid.UUID, c models.RunCompletion, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.Status != models.RunStatusRunning {
		return false, nil
	}
	run.Status = models.RunStatusCompleted
	run.OutputText = c.OutputText
	run.TokensInput = c.TokensInput
	run.TokensOutput = c.TokensOutput
	run.ToolRounds = c.ToolRounds
	run.BudgetTokensRemaining = c.BudgetTokensRemaining
	run.CompletedAt = &at
	return true, nil
}

func (s *MemoryRunStore) MarkTerminal(_ context.Context, id uuid.UUID, status models.RunStatus, errorCode, errorMessage string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.Status.IsTerminal() {
		return false, nil
	}
	run.Status = status
	run.ErrorCode = errorCode
	run.ErrorMessage = errorMessage
	run.CompletedAt = &at
	return true, nil
}

func (s *MemoryRunStore) ClaimNextPending(_ context.Context, at time.Time) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *models.Run
	for _, run := range s.runs {
		if run.Status != models.RunStatusPending {
			continue
		}
		if oldest == nil || run.CreatedAt.Before(oldest.CreatedAt) {
			oldest = run
		}
	}
	if oldest == nil {
		return nil, nil
	}
	oldest.Status = models.RunStatusRunning
	oldest.StartedAt = &at
	cp := *oldest
	return &cp, nil
}

func (s *MemoryRunStore) FindStuck(_ context.Context, runningSinceBefore time.Time) ([]*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var runs []*models.Run
	for _, run := range s.runs {
		if run.Status == models.RunStatusRunning && run.StartedAt != nil && run.StartedAt.Before(runningSinceBefore) {
			cp := *run
			runs = append(runs, &cp)
		}
	}
	return runs, nil
}

func (s *MemoryRunStore) DeleteTerminalBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for id, run := range s.runs {
		if run.Status.IsTerminal() && run.CompletedAt != nil && run.CompletedAt.Before(before) {
			delete(s.runs, id)
			count++
		}
	}
	return count, nil
}

// SetStartedAt rewrites a run's started_at. Test seam for watchdog
// scenarios.
func (s *MemoryRunStore) SetStartedAt(id uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		run.StartedAt = &at
	}
}

// SetCompletedAt rewrites a run's completed_at. Test seam for retention
// scenarios.
func (s *MemoryRunStore) SetCompletedAt(id uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		run.CompletedAt = &at
	}
}

// MemoryMessageStore is an in-memory MessageStore.
type MemoryMessageStore struct {
	mu   sync.Mutex
	msgs []*models.Message
}

// NewMemoryMessageStore creates an empty in-memory message store.
func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{}
}

func (s *MemoryMessageStore) Insert(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *msg
	s.msgs = append(s.msgs, &cp)
	return nil
}

func (s *MemoryMessageStore) ListRecent(_ context.Context, tenantID, conversationID uuid.UUID, limit int) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var msgs []*models.Message
	for _, msg := range s.msgs {
		if msg.TenantID == tenantID && msg.ConversationID == conversationID {
			cp := *msg
			msgs = append(msgs, &cp)
		}
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// MemoryAssistantStore is an in-memory AssistantStore.
type MemoryAssistantStore struct {
	mu         sync.Mutex
	assistants map[uuid.UUID]*models.Assistant
}

// NewMemoryAssistantStore creates an empty in-memory assistant store.
func NewMemoryAssistantStore() *MemoryAssistantStore {
	return &MemoryAssistantStore{assistants: make(map[uuid.UUID]*models.Assistant)}
}

// Put stores an assistant, replacing any previous copy.
func (s *MemoryAssistantStore) Put(a *models.Assistant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.assistants[a.ID] = &cp
}

func (s *MemoryAssistantStore) Get(_ context.Context, tenantID, id uuid.UUID) (*models.Assistant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assistants[id]
	if !ok || a.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// MemoryAuditStore is an in-memory AuditStore.
type MemoryAuditStore struct {
	mu      sync.Mutex
	entries []*models.AuditLog
}

// NewMemoryAuditStore creates an empty in-memory audit store.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (s *MemoryAuditStore) Insert(_ context.Context, entry *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.entries = append(s.entries, &cp)
	return nil
}

// Entries returns a copy of all appended entries.
func (s *MemoryAuditStore) Entries() []*models.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.AuditLog, len(s.entries))
	copy(out, s.entries)
	return out
}

// MemoryTraceStore is an in-memory TraceStore.
type MemoryTraceStore struct {
	mu     sync.Mutex
	traces []*models.LLMTrace
}

// NewMemoryTraceStore creates an empty in-memory trace store.
func NewMemoryTraceStore() *MemoryTraceStore {
	return &MemoryTraceStore{}
}

func (s *MemoryTraceStore) Insert(_ context.Context, trace *models.LLMTrace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *trace
	s.traces = append(s.traces, &cp)
	return nil
}

func (s *MemoryTraceStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.traces[:0]
	var count int64
	for _, trace := range s.traces {
		if trace.CreatedAt.Before(before) {
			count++
			continue
		}
		kept = append(kept, trace)
	}
	s.traces = kept
	return count, nil
}

// Traces returns a copy of all appended traces.
func (s *MemoryTraceStore) Traces() []*models.LLMTrace {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.LLMTrace, len(s.traces))
	copy(out, s.traces)
	return out
}

// MemoryUsageStore is an in-memory UsageStore.
type MemoryUsageStore struct {
	mu      sync.Mutex
	records []*models.UsageRecord
}

// NewMemoryUsageStore creates an empty in-memory usage store.
func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{}
}

func (s *MemoryUsageStore) Insert(_ context.Context, rec *models.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records = append(s.records, &cp)
	return nil
}

// Records returns a copy of all appended usage rows.
func (s *MemoryUsageStore) Records() []*models.UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.UsageRecord, len(s.records))
	copy(out, s.records)
	return out
}
