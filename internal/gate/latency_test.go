package gate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyWindowStdDev(t *testing.T) {
	w := newLatencyWindow(4)

	_, ok := w.StdDev()
	assert.False(t, ok, "no samples yet")

	w.Add(100 * time.Millisecond)
	_, ok = w.StdDev()
	assert.False(t, ok, "one sample is not enough")

	w.Add(100 * time.Millisecond)
	sd, ok := w.StdDev()
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), sd, "identical samples have zero spread")

	w.Add(300 * time.Millisecond)
	sd, ok = w.StdDev()
	require.True(t, ok)
	assert.Greater(t, sd, 50*time.Millisecond)
}

func TestLatencyWindowWrapsAround(t *testing.T) {
	w := newLatencyWindow(2)

	w.Add(time.Second)
	w.Add(time.Second)
	w.Add(10 * time.Millisecond)
	w.Add(10 * time.Millisecond)

	// Only the two newest samples remain.
	sd, ok := w.StdDev()
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), sd)
}

func TestPacerWidensAndNarrows(t *testing.T) {
	p := newPacer(10*time.Millisecond, time.Second, 50*time.Millisecond, 200*time.Millisecond)

	assert.Equal(t, 10*time.Millisecond, p.Delay())

	// High variance doubles the delay up to the ceiling.
	for rangeIdx := 0; rangeIdx < 10; rangeIdx++ {
		p.Adjust(time.Second)
	}
	assert.Equal(t, time.Second, p.Delay())

	// Low variance halves it back down to the floor.
	for rangeIdx := 0; rangeIdx < 10; rangeIdx++ {
		p.Adjust(time.Millisecond)
	}
	assert.Equal(t, 10*time.Millisecond, p.Delay())

	// Mid-range variance leaves the delay alone.
	before := p.Delay()
	p.Adjust(100 * time.Millisecond)
	assert.Equal(t, before, p.Delay())
}

func TestPacerReserveSpacesDispatches(t *testing.T) {
	p := newPacer(20*time.Millisecond, time.Second, 0, time.Hour)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// First reservation goes immediately; the second waits one delay.
	assert.Equal(t, time.Duration(0), p.Reserve(now))
	assert.Equal(t, 20*time.Millisecond, p.Reserve(now))
	assert.Equal(t, 40*time.Millisecond, p.Reserve(now))

	// Once real time catches up, no wait is due.
	assert.Equal(t, time.Duration(0), p.Reserve(now.Add(time.Second)))
}
