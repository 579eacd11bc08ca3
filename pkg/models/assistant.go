package models

import (
	"time"

	"github.com/google/uuid"
)

// Assistant is the read-only agent configuration resolved per run.
type Assistant struct {
	ID            uuid.UUID   `json:"id"`
	TenantID      uuid.UUID   `json:"tenant_id"`
	Name          string      `json:"name"`
	SystemPrompt  string      `json:"system_prompt"`
	Profile       Profile     `json:"agent_profile"`
	CollectionIDs []uuid.UUID `json:"collections"`
	Integrations  []string    `json:"integrations"`
	CreatedAt     time.Time   `json:"created_at"`
}
