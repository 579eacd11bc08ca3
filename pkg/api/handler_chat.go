package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/maestro-ai/maestro/pkg/models"
	"github.com/maestro-ai/maestro/pkg/stream"
)

// ChatRequest is the body of POST /api/v1/chat.
type ChatRequest struct {
	AssistantID    uuid.UUID      `json:"assistant_id" binding:"required"`
	ConversationID uuid.UUID      `json:"conversation_id"`
	Message        string         `json:"message" binding:"required"`
	Profile        models.Profile `json:"profile"`
	BudgetTokens   int            `json:"budget_tokens"`
	Metadata       map[string]any `json:"metadata"`
}

// Chat enqueues a run and streams its events as SSE. The first two
// events carry the conversation and run identifiers so the client can
// reconnect via /runs/:id/events.
func (s *Server) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tenant := tenantID(c)
	conversationID := req.ConversationID
	if conversationID == uuid.Nil {
		conversationID = uuid.New()
	}

	run, err := s.runs.CreateRun(c.Request.Context(), models.CreateRunRequest{
		TenantID:       tenant,
		AssistantID:    req.AssistantID,
		ConversationID: conversationID,
		InputText:      req.Message,
		Profile:        req.Profile,
		BudgetTokens:   req.BudgetTokens,
		Metadata:       req.Metadata,
	})
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	if _, err := s.messages.AppendUserMessage(c.Request.Context(), tenant, conversationID, run.ID, req.Message); err != nil {
		slog.Warn("Failed to persist user message", "run_id", run.ID, "error", err)
	}

	setSSEHeaders(c)
	writeSSE(c, "", "conversation_id", conversationID.String())
	writeSSE(c, "", "run_id", run.ID.String())

	s.relayRunEvents(c, run.ID.String(), "")
}

// relayRunEvents tails a run's event log and forwards it as SSE until
// the terminal event, the hard timeout, or client disconnect. Duplicate
// sequence numbers (replays after store retries) are skipped; synthetic
// heartbeat events pass through untouched.
func (s *Server) relayRunEvents(c *gin.Context, runID, fromID string) {
	consumer := stream.NewConsumer(s.log, runID, fromID, s.streamCfg)

	lastSeq := 0
	for ev := range consumer.Consume(c.Request.Context()) {
		if ev.Seq != stream.HeartbeatSeq {
			if seq, err := strconv.Atoi(ev.Seq); err == nil {
				if seq <= lastSeq {
					continue
				}
				lastSeq = seq
			}
		}
		writeSSE(c, ev.ID, ev.Type, eventData(ev))
	}
}

// eventData renders an event payload for the wire. Token events carry
// their text raw; everything else stays JSON.
func eventData(ev stream.Event) string {
	if ev.Type == stream.EventToken {
		var payload struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(ev.Data, &payload); err == nil {
			return payload.Text
		}
	}
	return string(ev.Data)
}
