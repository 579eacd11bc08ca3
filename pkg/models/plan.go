package models

import (
	"crypto/rand"
	"encoding/hex"
)

// StepStatus is the lifecycle state of a plan step.
type StepStatus string

// Plan step states.
const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusSkipped   StepStatus = "skipped"
	StepStatusFailed    StepStatus = "failed"
)

// Plan step actions accepted from the planner.
const (
	StepActionSearchDocuments      = "search_documents"
	StepActionSynthesize           = "synthesize"
	StepActionEnsureSourceCoverage = "ensure_source_coverage"
)

// PlanStep is a single unit of intent in a plan. Mutated in place as the
// loop progresses.
type PlanStep struct {
	ID            string     `json:"id"`
	Action        string     `json:"action"`
	Description   string     `json:"description"`
	Tool          string     `json:"tool,omitempty"`
	Status        StepStatus `json:"status"`
	ResultSummary string     `json:"result_summary,omitempty"`
}

// Plan is the ordered step list generated for non-reactive profiles.
type Plan struct {
	Steps     []PlanStep `json:"steps"`
	Reasoning string     `json:"reasoning"`
	Profile   Profile    `json:"profile"`
}

// NewStepID returns a random 8-character hex step identifier.
func NewStepID() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// CurrentStep returns the first step that is not in a terminal state,
// or nil when all steps are done.
func (p *Plan) CurrentStep() *PlanStep {
	for i := range p.Steps {
		switch p.Steps[i].Status {
		case StepStatusCompleted, StepStatusSkipped, StepStatusFailed:
			continue
		}
		return &p.Steps[i]
	}
	return nil
}

// CompleteCurrentStep marks the current step completed with an optional
// result summary. No-op when the plan is exhausted.
func (p *Plan) CompleteCurrentStep(summary string) {
	step := p.CurrentStep()
	if step == nil {
		return
	}
	step.Status = StepStatusCompleted
	step.ResultSummary = summary
}
