package models

import (
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one persisted conversation turn. Only user and assistant
// turns are persisted; tool traffic lives in the per-run event log.
type Message struct {
	ID             uuid.UUID  `json:"id"`
	TenantID       uuid.UUID  `json:"tenant_id"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	RunID          *uuid.UUID `json:"run_id,omitempty"`
	Role           string     `json:"role"`
	Content        string     `json:"content"`
	Citations      []Citation `json:"citations,omitempty"`
	Blocks         []Block    `json:"blocks,omitempty"`
	TokensOutput   int        `json:"tokens_output,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
