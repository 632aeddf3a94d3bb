package agent

import (
	"sync"
	"time"
)

// Frequency tracks how often an agent activates: the instant frequency
// from the last two activations and a moving average over a time window.
type Frequency struct {
	mu     sync.Mutex
	window time.Duration
	times  []time.Time
	total  uint64
	now    func() time.Time
}

// NewFrequency creates a tracker with the given averaging window.
// A non-positive window defaults to one minute.
func NewFrequency(window time.Duration) *Frequency {
	if window <= 0 {
		window = time.Minute
	}
	return &Frequency{window: window, now: time.Now}
}

// Record notes one activation at the current time.
func (f *Frequency) Record() {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	f.times = append(f.times, now)
	f.total++
	f.trimLocked(now)
}

func (f *Frequency) trimLocked(now time.Time) {
	cutoff := now.Add(-f.window)
	i := 0
	for i < len(f.times) && f.times[i].Before(cutoff) {
		i++
	}
	f.times = f.times[i:]
}

// Instant returns the frequency in Hz derived from the interval between
// the two most recent activations, or 0 with fewer than two recorded.
func (f *Frequency) Instant() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.times)
	if n < 2 {
		return 0
	}
	dt := f.times[n-1].Sub(f.times[n-2])
	if dt <= 0 {
		return 0
	}
	return 1 / dt.Seconds()
}

// Average returns activations per second over the configured window.
func (f *Frequency) Average() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trimLocked(f.now())
	if len(f.times) < 2 {
		return 0
	}
	return float64(len(f.times)) / f.window.Seconds()
}

// Total returns the all-time activation count.
func (f *Frequency) Total() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}
