package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-ai/maestro/pkg/models"
)

func newBuiltinRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r, BuiltinDeps{WebEnabled: true}))
	r.Seal()
	return r
}

func toolNames(defs []*Definition) []string {
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(Definition{Name: "x", Category: CategoryBlock, BlockType: "x"}, nil))
	assert.Error(t, r.Register(Definition{Name: "x", Category: CategoryBlock}, nil), "duplicate name")
	assert.Error(t, r.Register(Definition{Category: CategoryBlock}, nil), "missing name")
	assert.Error(t, r.Register(Definition{Name: "i", Category: CategoryIntegration}, nil), "integration without provider")

	r.Seal()
	assert.Error(t, r.Register(Definition{Name: "late", Category: CategoryBlock}, nil))

	def, _, ok := r.Get("x")
	require.True(t, ok)
	assert.Equal(t, 30, def.TimeoutSeconds, "default timeout applied")
	assert.Equal(t, models.ProfileReactive, def.MinProfile)
	assert.False(t, def.ContinuesLoop, "block tools do not continue the loop")
}

func TestGetAllowedTools_ProfileGating(t *testing.T) {
	r := newBuiltinRegistry(t)

	tests := []struct {
		profile models.Profile
		want    string
		absent  string
	}{
		{models.ProfileReactive, "search_documents", "chart"},
		{models.ProfileBalanced, "delegate_to_assistant", "list_calendar_events"},
		{models.ProfilePro, "list_calendar_events", ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.profile), func(t *testing.T) {
			defs := r.GetAllowedTools(AllowedToolsFilter{Profile: tt.profile})
			names := toolNames(defs)
			assert.Contains(t, names, tt.want)
			if tt.absent != "" {
				assert.NotContains(t, names, tt.absent)
			}
			// Invariant: every returned tool is at or below the profile
			for _, def := range defs {
				assert.LessOrEqual(t, def.MinProfile.Order(), tt.profile.Order())
			}
		})
	}
}

func TestGetAllowedTools_IntegrationProviderGating(t *testing.T) {
	r := newBuiltinRegistry(t)

	// No providers connected: no integration tools at all
	defs := r.GetAllowedTools(AllowedToolsFilter{Profile: models.ProfileExec})
	for _, def := range defs {
		assert.NotEqual(t, CategoryIntegration, def.Category)
	}

	// Only gmail connected
	defs = r.GetAllowedTools(AllowedToolsFilter{Profile: models.ProfileExec, Providers: []string{"gmail"}})
	names := toolNames(defs)
	assert.Contains(t, names, "gmail_search")
	assert.Contains(t, names, "search_contacts")
	assert.NotContains(t, names, "slack_search")
}

func TestGetAllowedTools_CategoryAndBlocklist(t *testing.T) {
	r := newBuiltinRegistry(t)

	defs := r.GetAllowedTools(AllowedToolsFilter{
		Profile:           models.ProfileExec,
		AllowedCategories: []Category{CategoryRetrieval},
	})
	for _, def := range defs {
		assert.Equal(t, CategoryRetrieval, def.Category)
	}

	defs = r.GetAllowedTools(AllowedToolsFilter{
		Profile:      models.ProfileExec,
		BlockedTools: []string{"search_web"},
	})
	assert.NotContains(t, toolNames(defs), "search_web")
}

func TestGetAllowedTools_WebDisabled(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r, BuiltinDeps{WebEnabled: false}))
	r.Seal()

	_, _, ok := r.Get("search_web")
	assert.False(t, ok)
}
