package agent

import (
	"github.com/maestro-ai/maestro/pkg/models"
)

// EventType enumerates the loop's event kinds.
type EventType string

// Loop event kinds, in the order a consumer typically sees them.
const (
	EventPlan      EventType = "plan"
	EventStatus    EventType = "status"
	EventToken     EventType = "token"
	EventTool      EventType = "tool"
	EventBlock     EventType = "block"
	EventCitations EventType = "citations"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

// Tool event phases.
const (
	ToolPhaseCalling   = "calling"
	ToolPhaseCompleted = "completed"
	ToolPhaseFailed    = "failed"
)

// Event is one loop emission. Exactly one payload field is set,
// matching Type. The loop closes its channel after Done or Error.
type Event struct {
	Type EventType

	Status string
	Text   string
	Plan   *models.Plan

	Tool      string
	ToolPhase string
	ToolError string

	Block     *models.Block
	Citations []models.Citation

	Done *Result

	ErrorCode    string
	ErrorMessage string
}

// Result summarizes a completed loop.
type Result struct {
	TokensInput    int
	TokensOutput   int
	ToolRounds     int
	BlocksCount    int
	CitationsCount int
}
