// Package tools provides the process-global tool catalog and the timed
// dispatcher that routes LLM tool calls to handlers.
package tools

import (
	"encoding/json"

	"github.com/maestro-ai/maestro/pkg/models"
)

// Category determines a tool's dispatch arguments and loop semantics.
type Category string

const (
	// CategoryBlock emits a UI block payload and does not re-enter the loop.
	CategoryBlock Category = "block"
	// CategoryEmail persists a draft bundle and emits a UI block.
	CategoryEmail Category = "email"
	// CategoryRetrieval returns document chunks or web results and re-enters the loop.
	CategoryRetrieval Category = "retrieval"
	// CategoryCalendar performs calendar side-effects and re-enters the loop.
	CategoryCalendar Category = "calendar"
	// CategoryIntegration calls an external provider API and re-enters the loop.
	CategoryIntegration Category = "integration"
	// CategoryDelegation runs a bounded retrieval+synthesis against another assistant.
	CategoryDelegation Category = "delegation"
)

// ContinuesLoop reports whether a successful call in this category sends
// the loop back to the LLM for another round.
func (c Category) ContinuesLoop() bool {
	switch c {
	case CategoryBlock, CategoryEmail:
		return false
	}
	return true
}

// Definition is one immutable registry entry.
type Definition struct {
	Name                 string
	Category             Category
	Provider             string // required for INTEGRATION tools
	Description          string
	OpenAISchema         json.RawMessage // function-calling parameter schema
	BlockType            string          // for BLOCK tools without a handler
	ContinuesLoop        bool
	RequiresConfirmation bool
	TimeoutSeconds       int // 0 = default 30
	MinProfile           models.Profile
}

// DelegationCaps bounds how much work a run may delegate to other
// assistants.
type DelegationCaps struct {
	MaxDelegations int
	MaxTokensPer   int
}

// DelegationCapsForProfile returns the per-profile delegation limits.
// Reactive runs may not delegate at all.
func DelegationCapsForProfile(profile models.Profile) DelegationCaps {
	switch profile {
	case models.ProfileBalanced:
		return DelegationCaps{MaxDelegations: 1, MaxTokensPer: 800}
	case models.ProfilePro, models.ProfileExec:
		return DelegationCaps{MaxDelegations: 2, MaxTokensPer: 1200}
	}
	return DelegationCaps{}
}
