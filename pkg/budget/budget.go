// Package budget provides per-run token accounting with hierarchical
// reservations. A Manager is exclusively owned by the worker goroutine
// driving its run — it is deliberately not safe for concurrent use.
package budget

import (
	"fmt"

	"github.com/maestro-ai/maestro/pkg/models"
)

// BudgetExhaustedError is returned when a consume or reserve request
// exceeds the available budget.
type BudgetExhaustedError struct {
	Requested int
	Remaining int
}

func (e *BudgetExhaustedError) Error() string {
	return fmt.Sprintf("budget exhausted: requested %d tokens, %d remaining", e.Requested, e.Remaining)
}

// ReservationError is returned for reservation bookkeeping violations:
// duplicate labels and double release.
type ReservationError struct {
	Label  string
	Reason string
}

func (e *ReservationError) Error() string {
	return fmt.Sprintf("reservation %q: %s", e.Label, e.Reason)
}

// Manager enforces an overall token budget for a single run and allows
// carving labeled sub-budgets for delegation or heavy tool calls.
//
// Invariant: consumed + Σ reservation.Remaining() ≤ total.
type Manager struct {
	total        int
	consumed     int
	reservations map[string]*Reservation
}

// Reservation is a labeled sub-budget carved out of a Manager. Tokens
// consumed against the reservation are folded into the parent on release;
// the unused remainder returns to the pool.
type Reservation struct {
	label     string
	allocated int
	consumed  int
	released  bool
}

// Label returns the reservation's unique label.
func (r *Reservation) Label() string { return r.label }

// Allocated returns the number of tokens set aside for the reservation.
func (r *Reservation) Allocated() int { return r.allocated }

// Consumed returns the tokens consumed against the reservation so far.
func (r *Reservation) Consumed() int { return r.consumed }

// Remaining returns the unconsumed portion of the reservation.
func (r *Reservation) Remaining() int { return r.allocated - r.consumed }

// Consume charges n tokens against the reservation.
func (r *Reservation) Consume(n int) error {
	if n > r.Remaining() {
		return &BudgetExhaustedError{Requested: n, Remaining: r.Remaining()}
	}
	r.consumed += n
	return nil
}

// NewManager creates a Manager with the given total token budget.
// A non-positive total falls back to the reactive profile default.
func NewManager(total int) *Manager {
	if total <= 0 {
		total = models.ProfileReactive.DefaultBudget()
	}
	return &Manager{
		total:        total,
		reservations: make(map[string]*Reservation),
	}
}

// NewManagerForProfile creates a Manager with the profile's default budget.
func NewManagerForProfile(profile models.Profile) *Manager {
	return NewManager(profile.DefaultBudget())
}

// Total returns the overall token budget.
func (m *Manager) Total() int { return m.total }

// Consumed returns the tokens consumed directly plus those folded in from
// released reservations.
func (m *Manager) Consumed() int { return m.consumed }

// Remaining returns the tokens still available for direct consumption:
// total minus consumed minus all outstanding reservation remainders.
func (m *Manager) Remaining() int {
	r := m.total - m.consumed
	for _, res := range m.reservations {
		r -= res.Remaining()
	}
	return r
}

// HardRemaining returns total minus consumed, ignoring reservations.
func (m *Manager) HardRemaining() int { return m.total - m.consumed }

// Check reports whether n tokens can be consumed.
func (m *Manager) Check(n int) bool { return n <= m.Remaining() }

// Consume charges n tokens against the budget, failing with
// *BudgetExhaustedError when n exceeds the remaining pool.
func (m *Manager) Consume(n int) error {
	if remaining := m.Remaining(); n > remaining {
		return &BudgetExhaustedError{Requested: n, Remaining: remaining}
	}
	m.consumed += n
	return nil
}

// ConsumeSafe is Consume with a boolean result instead of an error.
func (m *Manager) ConsumeSafe(n int) bool {
	return m.Consume(n) == nil
}

// Reserve carves n tokens out of the pool under the given label.
// Labels are unique for the life of the reservation.
func (m *Manager) Reserve(label string, n int) (*Reservation, error) {
	if _, exists := m.reservations[label]; exists {
		return nil, &ReservationError{Label: label, Reason: "label already reserved"}
	}
	if remaining := m.Remaining(); n > remaining {
		return nil, &BudgetExhaustedError{Requested: n, Remaining: remaining}
	}
	res := &Reservation{label: label, allocated: n}
	m.reservations[label] = res
	return res, nil
}

// Release folds the reservation's consumed tokens into the manager and
// returns the unused remainder to the pool. Returns the number of tokens
// returned. Releasing twice fails with *ReservationError.
func (m *Manager) Release(res *Reservation) (int, error) {
	if res == nil {
		return 0, &ReservationError{Reason: "nil reservation"}
	}
	if res.released {
		return 0, &ReservationError{Label: res.label, Reason: "already released"}
	}
	if _, ok := m.reservations[res.label]; !ok {
		return 0, &ReservationError{Label: res.label, Reason: "not held by this manager"}
	}
	returned := res.Remaining()
	m.consumed += res.consumed
	res.released = true
	delete(m.reservations, res.label)
	return returned, nil
}

// ReservationSnapshot is the serializable view of a reservation.
type ReservationSnapshot struct {
	Allocated int `json:"allocated"`
	Consumed  int `json:"consumed"`
	Remaining int `json:"remaining"`
}

// Snapshot is the serializable view of a Manager.
type Snapshot struct {
	Total         int                            `json:"total"`
	Consumed      int                            `json:"consumed"`
	Remaining     int                            `json:"remaining"`
	HardRemaining int                            `json:"hard_remaining"`
	Reservations  map[string]ReservationSnapshot `json:"reservations,omitempty"`
}

// Snapshot returns a copy of the manager state safe to serialize or log.
func (m *Manager) Snapshot() Snapshot {
	snap := Snapshot{
		Total:         m.total,
		Consumed:      m.consumed,
		Remaining:     m.Remaining(),
		HardRemaining: m.HardRemaining(),
	}
	if len(m.reservations) > 0 {
		snap.Reservations = make(map[string]ReservationSnapshot, len(m.reservations))
		for label, res := range m.reservations {
			snap.Reservations[label] = ReservationSnapshot{
				Allocated: res.allocated,
				Consumed:  res.consumed,
				Remaining: res.Remaining(),
			}
		}
	}
	return snap
}
