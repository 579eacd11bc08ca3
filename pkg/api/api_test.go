package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-ai/maestro/pkg/config"
	"github.com/maestro-ai/maestro/pkg/models"
	"github.com/maestro-ai/maestro/pkg/services"
	"github.com/maestro-ai/maestro/pkg/stream"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiFixture struct {
	router    *gin.Engine
	runs      *services.RunService
	messages  *services.MessageService
	msgStore  *services.MemoryMessageStore
	log       *stream.MemoryLog
	streamCfg *config.StreamConfig
	tenantID  uuid.UUID
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	streamCfg := config.DefaultStreamConfig()
	streamCfg.ReadBlock = 10 * time.Millisecond
	streamCfg.HeartbeatInterval = time.Hour
	streamCfg.HardTimeout = 5 * time.Second

	msgStore := services.NewMemoryMessageStore()
	runs := services.NewRunService(services.NewMemoryRunStore())
	messages := services.NewMessageService(msgStore)
	log := stream.NewMemoryLog()

	server := NewServer(runs, messages, log, streamCfg)
	return &apiFixture{
		router:    server.Router(),
		runs:      runs,
		messages:  messages,
		msgStore:  msgStore,
		log:       log,
		streamCfg: streamCfg,
		tenantID:  uuid.New(),
	}
}

func (f *apiFixture) request(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", f.tenantID.String())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) createRun(t *testing.T) *models.Run {
	t.Helper()
	run, err := f.runs.CreateRun(context.Background(), models.CreateRunRequest{
		TenantID:       f.tenantID,
		AssistantID:    uuid.New(),
		ConversationID: uuid.New(),
		InputText:      "Que dit la clause de résiliation ?",
	})
	require.NoError(t, err)
	return run
}

// publishTerminated writes a small complete event sequence to the run's
// log so SSE handlers tailing it terminate on their own.
func (f *apiFixture) publishTerminated(t *testing.T, runID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	pub := stream.NewPublisher(f.log, runID.String(), f.streamCfg)
	require.NoError(t, pub.Status(ctx, "starting"))
	require.NoError(t, pub.Status(ctx, "analyzing"))
	require.NoError(t, pub.Token(ctx, "La clause 7\ncouvre la résiliation."))
	require.NoError(t, pub.Done(ctx, stream.DoneData{TokensInput: 40, TokensOutput: 12}))
}

// sseEvent is one parsed frame from a text/event-stream body.
type sseEvent struct {
	ID    string
	Event string
	Data  string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, frame := range strings.Split(body, "\n\n") {
		if strings.TrimSpace(frame) == "" {
			continue
		}
		var ev sseEvent
		var dataLines []string
		for _, line := range strings.Split(frame, "\n") {
			switch {
			case strings.HasPrefix(line, "id: "):
				ev.ID = strings.TrimPrefix(line, "id: ")
			case strings.HasPrefix(line, "event: "):
				ev.Event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
			}
		}
		ev.Data = strings.Join(dataLines, "\n")
		events = append(events, ev)
	}
	return events
}

func TestChat_StreamsRunEvents(t *testing.T) {
	f := newAPIFixture(t)
	assistantID := uuid.New()

	// The worker normally produces the stream; here a goroutine plays
	// its part once the run exists.
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			runs, err := f.runs.ListRuns(context.Background(), models.RunFilters{TenantID: f.tenantID, Limit: 10})
			if err == nil && len(runs) == 1 {
				f.publishTerminated(t, runs[0].ID)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	rec := f.request(t, http.MethodPost, "/api/v1/chat", gin.H{
		"assistant_id": assistantID,
		"message":      "Que dit la clause de résiliation ?",
	}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	events := parseSSE(t, rec.Body.String())
	require.GreaterOrEqual(t, len(events), 6)

	assert.Equal(t, "conversation_id", events[0].Event)
	assert.Equal(t, "run_id", events[1].Event)
	runID, err := uuid.Parse(events[1].Data)
	require.NoError(t, err)

	types := make([]string, 0, len(events)-2)
	for _, ev := range events[2:] {
		types = append(types, ev.Event)
	}
	assert.Equal(t, []string{"status", "status", "token", "done"}, types)

	// Token data is raw text; multi-line payloads survive the framing.
	assert.Equal(t, "La clause 7\ncouvre la résiliation.", events[4].Data)
	assert.Equal(t, "done", events[len(events)-1].Event)

	// The user message was persisted against the run.
	msgs, err := f.messages.ListRecentMessages(context.Background(), f.tenantID, uuid.MustParse(events[0].Data), 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].Role)
	require.NotNil(t, msgs[0].RunID)
	assert.Equal(t, runID, *msgs[0].RunID)
}

func TestChat_ValidationErrors(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodPost, "/api/v1/chat", gin.H{"message": "sans assistant"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.request(t, http.MethodPost, "/api/v1/chat", gin.H{"assistant_id": uuid.New()}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTenantMiddleware(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	req.Header.Set("X-Tenant-ID", "not-a-uuid")
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Health is public.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/healthz", nil)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetRun(t *testing.T) {
	f := newAPIFixture(t)
	run := f.createRun(t)

	rec := f.request(t, http.MethodGet, "/api/v1/runs/"+run.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, models.RunStatusPending, got.Status)

	rec = f.request(t, http.MethodGet, "/api/v1/runs/"+uuid.New().String(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.request(t, http.MethodGet, "/api/v1/runs/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRun_TenantIsolation(t *testing.T) {
	f := newAPIFixture(t)
	run := f.createRun(t)

	rec := f.request(t, http.MethodGet, "/api/v1/runs/"+run.ID.String(), nil,
		map[string]string{"X-Tenant-ID": uuid.New().String()})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRuns(t *testing.T) {
	f := newAPIFixture(t)
	first := f.createRun(t)
	f.createRun(t)

	rec := f.request(t, http.MethodGet, "/api/v1/runs", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Runs  []*models.Run `json:"runs"`
		Count int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)

	rec = f.request(t, http.MethodGet, "/api/v1/runs?conversation_id="+first.ConversationID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, first.ID, body.Runs[0].ID)

	rec = f.request(t, http.MethodGet, "/api/v1/runs?status=completed", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 0, body.Count)

	rec = f.request(t, http.MethodGet, "/api/v1/runs?limit=zero", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamRunEvents_ReplaysLog(t *testing.T) {
	f := newAPIFixture(t)
	run := f.createRun(t)
	f.publishTerminated(t, run.ID)

	rec := f.request(t, http.MethodGet, "/api/v1/runs/"+run.ID.String()+"/events", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := parseSSE(t, rec.Body.String())
	require.Len(t, events, 4)
	assert.Equal(t, "status", events[0].Event)
	assert.Equal(t, "done", events[3].Event)
	for _, ev := range events {
		assert.NotEmpty(t, ev.ID)
	}
}

func TestStreamRunEvents_ResumeFromLastEventID(t *testing.T) {
	f := newAPIFixture(t)
	run := f.createRun(t)
	f.publishTerminated(t, run.ID)

	rec := f.request(t, http.MethodGet, "/api/v1/runs/"+run.ID.String()+"/events", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := parseSSE(t, rec.Body.String())
	require.Len(t, events, 4)

	// Resume after the second event: only token and done remain.
	rec = f.request(t, http.MethodGet, "/api/v1/runs/"+run.ID.String()+"/events", nil,
		map[string]string{"Last-Event-ID": events[1].ID})
	require.Equal(t, http.StatusOK, rec.Code)

	resumed := parseSSE(t, rec.Body.String())
	require.Len(t, resumed, 2)
	assert.Equal(t, "token", resumed[0].Event)
	assert.Equal(t, "done", resumed[1].Event)
}

func TestStreamRunEvents_UnknownRun(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodGet, "/api/v1/runs/"+uuid.New().String()+"/events", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
