package tools

import (
	"context"
	"fmt"
	"slices"

	"github.com/maestro-ai/maestro/pkg/models"
)

// Handler executes one tool call. A nil handler is legal for BLOCK tools,
// whose arguments pass through as the block payload.
type Handler func(ctx context.Context, inv Invocation) (Output, error)

// Registry is the process-global tool catalog. It is populated once at
// startup and read-only afterwards, so lookups take no lock.
type Registry struct {
	sealed      bool
	definitions map[string]*Definition
	handlers    map[string]Handler
	order       []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		definitions: make(map[string]*Definition),
		handlers:    make(map[string]Handler),
	}
}

// Register stores a definition and its optional handler. Registration
// after Seal or with a duplicate name is a programming error.
func (r *Registry) Register(def Definition, handler Handler) error {
	if r.sealed {
		return fmt.Errorf("registry is sealed; cannot register %q", def.Name)
	}
	if def.Name == "" {
		return fmt.Errorf("tool definition requires a name")
	}
	if _, exists := r.definitions[def.Name]; exists {
		return fmt.Errorf("tool %q already registered", def.Name)
	}
	if def.Category == CategoryIntegration && def.Provider == "" {
		return fmt.Errorf("integration tool %q requires a provider", def.Name)
	}
	if def.TimeoutSeconds <= 0 {
		def.TimeoutSeconds = 30
	}
	if def.MinProfile == "" {
		def.MinProfile = models.ProfileReactive
	}
	def.ContinuesLoop = def.Category.ContinuesLoop()

	r.definitions[def.Name] = &def
	r.handlers[def.Name] = handler
	r.order = append(r.order, def.Name)
	return nil
}

// Seal marks registration as finished. After Seal the registry is
// immutable and safe for concurrent readers.
func (r *Registry) Seal() {
	r.sealed = true
}

// Get returns the definition and handler for a tool name.
func (r *Registry) Get(name string) (*Definition, Handler, bool) {
	def, ok := r.definitions[name]
	if !ok {
		return nil, nil, false
	}
	return def, r.handlers[name], true
}

// AllowedToolsFilter scopes the catalog for a single run.
type AllowedToolsFilter struct {
	Profile           models.Profile
	Providers         []string   // connected integration providers
	AllowedCategories []Category // nil = all categories
	BlockedTools      []string
}

// GetAllowedTools returns the definitions available to a run, in
// registration order. A tool passes when its min profile is at or below
// the run's profile, its category is allowed, its name is not blocked,
// and — for integration tools — its provider is connected.
func (r *Registry) GetAllowedTools(filter AllowedToolsFilter) []*Definition {
	var out []*Definition
	for _, name := range r.order {
		def := r.definitions[name]
		if def.MinProfile.Order() > filter.Profile.Order() {
			continue
		}
		if filter.AllowedCategories != nil && !slices.Contains(filter.AllowedCategories, def.Category) {
			continue
		}
		if slices.Contains(filter.BlockedTools, def.Name) {
			continue
		}
		if def.Category == CategoryIntegration && !slices.Contains(filter.Providers, def.Provider) {
			continue
		}
		out = append(out, def)
	}
	return out
}
