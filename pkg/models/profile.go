package models

// Profile is the execution mode of an assistant. It controls planner use,
// the allowed tool set, loop depth, and the default token budget.
type Profile string

// Profiles, ordered by capability.
const (
	ProfileReactive Profile = "reactive"
	ProfileBalanced Profile = "balanced"
	ProfilePro      Profile = "pro"
	ProfileExec     Profile = "exec"
)

// profileOrder assigns each profile its position in the capability ordering.
var profileOrder = map[Profile]int{
	ProfileReactive: 0,
	ProfileBalanced: 1,
	ProfilePro:      2,
	ProfileExec:     3,
}

// Order returns the profile's position in the capability ordering.
// Unknown profiles order as reactive.
func (p Profile) Order() int {
	if o, ok := profileOrder[p]; ok {
		return o
	}
	return 0
}

// Valid reports whether p is a known profile.
func (p Profile) Valid() bool {
	_, ok := profileOrder[p]
	return ok
}

// defaultBudgets holds the per-profile default token budgets.
var defaultBudgets = map[Profile]int{
	ProfileReactive: 8_000,
	ProfileBalanced: 30_000,
	ProfilePro:      80_000,
	ProfileExec:     200_000,
}

// DefaultBudget returns the default token budget for the profile.
// Unknown profiles get the reactive default.
func (p Profile) DefaultBudget() int {
	if b, ok := defaultBudgets[p]; ok {
		return b
	}
	return defaultBudgets[ProfileReactive]
}

// maxRounds holds the per-profile tool-loop round caps.
var maxRounds = map[Profile]int{
	ProfileReactive: 1,
	ProfileBalanced: 3,
	ProfilePro:      5,
	ProfileExec:     5,
}

// MaxRounds returns the maximum number of tool-loop rounds for the profile.
func (p Profile) MaxRounds() int {
	if r, ok := maxRounds[p]; ok {
		return r
	}
	return maxRounds[ProfileReactive]
}
