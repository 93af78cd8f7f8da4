package gate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/castflow/internal/models"
)

func newTestRegistry(threshold int, reset time.Duration) (*BreakerRegistry, *time.Time) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	r := NewBreakerRegistry(BreakerConfig{
		FailureThreshold: threshold,
		ResetTimeout:     reset,
	})
	r.now = func() time.Time { return now }
	return r, &now
}

func TestCircuitOpensAtThreshold(t *testing.T) {
	r, _ := newTestRegistry(3, time.Minute)
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Allow("ep"), "dispatch %d should be admitted", i)
		r.Record("ep", boom)
	}

	// Exactly at the threshold the circuit is open.
	assert.ErrorIs(t, r.Allow("ep"), models.ErrCircuitOpen)
	assert.Equal(t, "open", r.States()["ep"])
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	r, _ := newTestRegistry(3, time.Minute)
	boom := errors.New("boom")

	require.NoError(t, r.Allow("ep"))
	r.Record("ep", boom)
	require.NoError(t, r.Allow("ep"))
	r.Record("ep", boom)

	// A success zeroes the streak; two more failures must not open it.
	require.NoError(t, r.Allow("ep"))
	r.Record("ep", nil)
	require.NoError(t, r.Allow("ep"))
	r.Record("ep", boom)
	require.NoError(t, r.Allow("ep"))
	r.Record("ep", boom)

	assert.NoError(t, r.Allow("ep"))
}

func TestHalfOpenAdmitsSingleTrial(t *testing.T) {
	r, now := newTestRegistry(1, time.Minute)
	boom := errors.New("boom")

	require.NoError(t, r.Allow("ep"))
	r.Record("ep", boom)
	require.ErrorIs(t, r.Allow("ep"), models.ErrCircuitOpen)

	// After the reset timeout one trial is admitted, and only one.
	*now = now.Add(time.Minute + time.Second)
	require.NoError(t, r.Allow("ep"))
	assert.Equal(t, "half-open", r.States()["ep"])
	assert.ErrorIs(t, r.Allow("ep"), models.ErrCircuitOpen)

	// Trial success closes the circuit.
	r.Record("ep", nil)
	assert.Equal(t, "closed", r.States()["ep"])
	assert.NoError(t, r.Allow("ep"))
}

func TestHalfOpenFailureReopens(t *testing.T) {
	r, now := newTestRegistry(1, time.Minute)
	boom := errors.New("boom")

	require.NoError(t, r.Allow("ep"))
	r.Record("ep", boom)

	*now = now.Add(2 * time.Minute)
	require.NoError(t, r.Allow("ep"))
	r.Record("ep", boom)

	// Back to open, and the reset timeout restarts from the trial failure.
	assert.Equal(t, "open", r.States()["ep"])
	assert.ErrorIs(t, r.Allow("ep"), models.ErrCircuitOpen)

	*now = now.Add(30 * time.Second)
	assert.ErrorIs(t, r.Allow("ep"), models.ErrCircuitOpen)

	*now = now.Add(31 * time.Second)
	assert.NoError(t, r.Allow("ep"))
}

func TestBreakersAreIndependentPerEndpoint(t *testing.T) {
	r, _ := newTestRegistry(1, time.Minute)

	require.NoError(t, r.Allow("bad"))
	r.Record("bad", errors.New("boom"))

	assert.ErrorIs(t, r.Allow("bad"), models.ErrCircuitOpen)
	assert.NoError(t, r.Allow("good"))
}
