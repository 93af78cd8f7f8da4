package gate

import (
	"math"
	"sync"
	"time"
)

// latencyWindow is a fixed-size rolling window of dispatch latencies. The
// variance over the window drives the adaptive inter-dispatch delay: jittery
// upstreams get more breathing room, steady ones get less.
type latencyWindow struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	filled  bool
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 20
	}
	return &latencyWindow{samples: make([]time.Duration, size)}
}

// Add records one completed dispatch latency, overwriting the oldest sample
// once the window is full.
func (w *latencyWindow) Add(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples[w.next] = d
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.filled = true
	}
}

// StdDev returns the standard deviation over the recorded samples, and false
// until the window holds at least two samples.
func (w *latencyWindow) StdDev() (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := w.next
	if w.filled {
		n = len(w.samples)
	}
	if n < 2 {
		return 0, false
	}

	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(w.samples[i])
	}
	mean := sum / float64(n)

	var sq float64
	for i := 0; i < n; i++ {
		diff := float64(w.samples[i]) - mean
		sq += diff * diff
	}

	return time.Duration(math.Sqrt(sq / float64(n))), true
}

// pacer enforces a minimum spacing between successive dispatches, independent
// of the worker-count limit. The spacing widens when latency variance is high
// and narrows when it settles, bounded by a floor and a ceiling.
type pacer struct {
	mu     sync.Mutex
	delay  time.Duration
	nextAt time.Time

	floor      time.Duration
	ceiling    time.Duration
	highStdDev time.Duration
	lowStdDev  time.Duration
}

func newPacer(floor, ceiling, lowStdDev, highStdDev time.Duration) *pacer {
	return &pacer{
		delay:      floor,
		floor:      floor,
		ceiling:    ceiling,
		lowStdDev:  lowStdDev,
		highStdDev: highStdDev,
	}
}

// Reserve claims the next dispatch slot and returns how long the caller must
// wait before dispatching.
func (p *pacer) Reserve(now time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	wait := p.nextAt.Sub(now)
	if wait < 0 {
		wait = 0
	}
	p.nextAt = now.Add(wait + p.delay)
	return wait
}

// Adjust widens or narrows the inter-dispatch delay from the observed
// latency spread.
func (p *pacer) Adjust(stddev time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case stddev > p.highStdDev:
		p.delay = min(p.delay*2, p.ceiling)
		if p.delay == 0 {
			p.delay = p.ceiling / 8
		}
	case stddev < p.lowStdDev:
		p.delay = max(p.delay/2, p.floor)
	}
}

// Delay returns the current inter-dispatch delay.
func (p *pacer) Delay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delay
}
