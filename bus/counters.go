package bus

import (
	"sync"

	"github.com/synapse-agents/synapse/core"
)

// Counters aggregates delivery and failure totals across the bus lifetime.
// Failures are counted by kind; Delivered counts successful cache appends.
type Counters struct {
	mu        sync.Mutex
	delivered uint64
	failures  map[core.FailureKind]uint64
}

// NewCounters constructs zeroed counters.
func NewCounters() *Counters {
	return &Counters{failures: make(map[core.FailureKind]uint64)}
}

func (c *Counters) addDelivered(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.delivered += uint64(n)
	c.mu.Unlock()
}

func (c *Counters) incFailure(kind core.FailureKind) {
	c.mu.Lock()
	c.failures[kind]++
	c.mu.Unlock()
}

// Delivered returns the total number of successful deliveries.
func (c *Counters) Delivered() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delivered
}

// Failures returns the count recorded for one failure kind.
func (c *Counters) Failures(kind core.FailureKind) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures[kind]
}

// Snapshot returns a copy of all failure counts.
func (c *Counters) Snapshot() map[core.FailureKind]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[core.FailureKind]uint64, len(c.failures))
	for k, v := range c.failures {
		out[k] = v
	}
	return out
}
