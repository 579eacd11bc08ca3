package budget

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-ai/maestro/pkg/models"
)

func TestNewManagerForProfile_Defaults(t *testing.T) {
	tests := []struct {
		profile models.Profile
		want    int
	}{
		{models.ProfileReactive, 8_000},
		{models.ProfileBalanced, 30_000},
		{models.ProfilePro, 80_000},
		{models.ProfileExec, 200_000},
		{models.Profile("unknown"), 8_000},
	}

	for _, tt := range tests {
		t.Run(string(tt.profile), func(t *testing.T) {
			assert.Equal(t, tt.want, NewManagerForProfile(tt.profile).Total())
		})
	}
}

func TestManager_ConsumeBoundaries(t *testing.T) {
	m := NewManager(100)

	require.True(t, m.Check(100))
	require.False(t, m.Check(101))

	// consume(remaining) succeeds
	require.NoError(t, m.Consume(100))
	assert.Equal(t, 0, m.Remaining())

	// consume(remaining+1) fails with a typed error
	err := m.Consume(1)
	var exhausted *BudgetExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 1, exhausted.Requested)
	assert.Equal(t, 0, exhausted.Remaining)
}

func TestManager_ConsumeSafe(t *testing.T) {
	m := NewManager(50)

	assert.True(t, m.ConsumeSafe(30))
	assert.False(t, m.ConsumeSafe(30))
	// Failed consume_safe must not change state
	assert.Equal(t, 30, m.Consumed())
	assert.Equal(t, 20, m.Remaining())
}

func TestManager_ReservationLifecycle(t *testing.T) {
	m := NewManager(1_000)

	res, err := m.Reserve("delegation", 300)
	require.NoError(t, err)
	assert.Equal(t, 700, m.Remaining())
	assert.Equal(t, 1_000, m.HardRemaining())

	// Duplicate label fails
	_, err = m.Reserve("delegation", 100)
	var resErr *ReservationError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "delegation", resErr.Label)

	// Consume within the reservation
	require.NoError(t, res.Consume(120))
	assert.Equal(t, 180, res.Remaining())

	// Overdraw fails
	err = res.Consume(181)
	var exhausted *BudgetExhaustedError
	require.ErrorAs(t, err, &exhausted)

	// Release folds consumed into the parent, returns the remainder
	returned, err := m.Release(res)
	require.NoError(t, err)
	assert.Equal(t, 180, returned)
	assert.Equal(t, 120, m.Consumed())
	assert.Equal(t, 880, m.Remaining())

	// Double release fails
	_, err = m.Release(res)
	require.ErrorAs(t, err, &resErr)
}

func TestManager_ReserveReleaseIsNoOp(t *testing.T) {
	m := NewManager(500)

	res, err := m.Reserve("scratch", 200)
	require.NoError(t, err)
	returned, err := m.Release(res)
	require.NoError(t, err)
	assert.Equal(t, 200, returned)

	// reserve + release with zero consumption leaves the budget untouched
	assert.Equal(t, 0, m.Consumed())
	assert.Equal(t, 500, m.Remaining())

	// The label is free again
	_, err = m.Reserve("scratch", 10)
	assert.NoError(t, err)
}

func TestManager_ReserveBeyondRemaining(t *testing.T) {
	m := NewManager(100)
	require.NoError(t, m.Consume(80))

	_, err := m.Reserve("big", 21)
	var exhausted *BudgetExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 20, exhausted.Remaining)
}

func TestManager_Invariant(t *testing.T) {
	// consumed + Σ reservation.remaining ≤ total, checked across a mixed
	// sequence of operations.
	m := NewManager(1_000)
	check := func() {
		t.Helper()
		outstanding := 0
		for _, rs := range m.Snapshot().Reservations {
			outstanding += rs.Remaining
		}
		assert.LessOrEqual(t, m.Consumed()+outstanding, m.Total())
		assert.Equal(t, m.Total()-m.Consumed()-outstanding, m.Remaining())
	}

	check()
	require.NoError(t, m.Consume(100))
	check()
	r1, err := m.Reserve("a", 200)
	require.NoError(t, err)
	check()
	require.NoError(t, r1.Consume(50))
	check()
	r2, err := m.Reserve("b", 300)
	require.NoError(t, err)
	check()
	_, err = m.Release(r1)
	require.NoError(t, err)
	check()
	require.NoError(t, m.Consume(200))
	check()
	_, err = m.Release(r2)
	require.NoError(t, err)
	check()
}

func TestManager_Snapshot(t *testing.T) {
	m := NewManager(400)
	require.NoError(t, m.Consume(100))
	res, err := m.Reserve("sub", 50)
	require.NoError(t, err)
	require.NoError(t, res.Consume(20))

	snap := m.Snapshot()
	assert.Equal(t, 400, snap.Total)
	assert.Equal(t, 100, snap.Consumed)
	assert.Equal(t, 270, snap.Remaining)
	assert.Equal(t, 300, snap.HardRemaining)
	require.Contains(t, snap.Reservations, "sub")
	assert.Equal(t, ReservationSnapshot{Allocated: 50, Consumed: 20, Remaining: 30}, snap.Reservations["sub"])

	// Snapshot is a copy — mutating the manager afterwards must not
	// change it.
	require.NoError(t, m.Consume(10))
	assert.Equal(t, 100, snap.Consumed)
}

func TestRelease_ForeignReservation(t *testing.T) {
	m1 := NewManager(100)
	m2 := NewManager(100)
	res, err := m1.Reserve("x", 10)
	require.NoError(t, err)

	_, err = m2.Release(res)
	var resErr *ReservationError
	assert.True(t, errors.As(err, &resErr))
}
