package cache

import (
	"sync"

	"github.com/synapse-agents/synapse/core"
)

// DefaultCapacity bounds a cache when no explicit capacity is configured.
const DefaultCapacity = 256

// Options configures a Cache.
type Options struct {
	// Capacity bounds the number of retained entries. Values < 1 fall back
	// to DefaultCapacity.
	Capacity int
	// Dedup enables the Reduce pass that collapses consecutive unused
	// entries from the same (sender, keyword) pair into the most recent.
	Dedup bool
}

// Cache is an ordered, bounded store of inbound messages for one agent.
// All methods are safe for concurrent use; operations complete without
// suspension under the cache's own lock.
type Cache struct {
	mu      sync.Mutex
	entries []core.Message
	nextSeq uint64
	opts    Options
}

// New constructs an empty cache.
func New(optFns ...func(o *Options)) *Cache {
	opts := Options{Capacity: DefaultCapacity}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Capacity < 1 {
		opts.Capacity = DefaultCapacity
	}
	return &Cache{nextSeq: 1, opts: opts}
}

// Append stores a new unused entry, assigning the next sequence number.
// It returns the assigned sequence number and the number of unused entries
// that had to be dropped to stay within capacity (a cache-overflow warning
// condition when non-zero; dropped used entries are routine eviction).
func (c *Cache) Append(sender, keyword, payload string) (seq uint64, droppedUnused int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq = c.nextSeq
	c.nextSeq++
	c.entries = append(c.entries, core.Message{
		Seq:     seq,
		Sender:  sender,
		Keyword: keyword,
		Payload: payload,
	})
	return seq, c.evictLocked()
}

// evictLocked drops entries until the cache fits its capacity: oldest used
// first, then oldest unused. Returns how many unused entries were dropped.
func (c *Cache) evictLocked() int {
	over := len(c.entries) - c.opts.Capacity
	if over <= 0 {
		return 0
	}
	dropped := 0
	for over > 0 {
		idx := -1
		for i, e := range c.entries {
			if e.Used {
				idx = i
				break
			}
		}
		if idx < 0 {
			idx = 0
			dropped++
		}
		c.entries = append(c.entries[:idx], c.entries[idx+1:]...)
		over--
	}
	return dropped
}

// DrainUnused returns all unused entries in arrival order, optionally
// filtered to the given keywords. Entries are copied, not marked: marking
// is a separate explicit step so a failed activation leaves its input
// available for retry. When dedup is enabled the reduce pass runs first.
func (c *Cache) DrainUnused(keywords ...string) []core.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opts.Dedup {
		c.reduceLocked()
	}

	var filter map[string]struct{}
	if len(keywords) > 0 {
		filter = make(map[string]struct{}, len(keywords))
		for _, kw := range keywords {
			filter[kw] = struct{}{}
		}
	}

	var out []core.Message
	for _, e := range c.entries {
		if e.Used {
			continue
		}
		if filter != nil {
			if _, ok := filter[e.Keyword]; !ok {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

// MarkUsed flags the given sequence numbers as consumed. Idempotent:
// already-used and unknown sequence numbers are no-ops.
func (c *Cache) MarkUsed(seqs ...uint64) {
	if len(seqs) == 0 {
		return
	}
	set := make(map[uint64]struct{}, len(seqs))
	for _, s := range seqs {
		set[s] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.entries {
		if _, ok := set[c.entries[i].Seq]; ok {
			c.entries[i].Used = true
		}
	}
}

// Reduce runs the dedup pass immediately, regardless of drain timing.
// It is idempotent and a no-op unless dedup is enabled.
func (c *Cache) Reduce() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opts.Dedup {
		c.reduceLocked()
	}
}

// reduceLocked collapses each run of adjacent unused entries sharing a
// (sender, keyword) pair into the run's most recent entry. Used entries
// terminate runs and are never merged.
func (c *Cache) reduceLocked() {
	kept := c.entries[:0]
	for i := 0; i < len(c.entries); i++ {
		e := c.entries[i]
		if !e.Used && i+1 < len(c.entries) {
			next := c.entries[i+1]
			if !next.Used && next.Sender == e.Sender && next.Keyword == e.Keyword {
				continue // superseded by the next entry in the run
			}
		}
		kept = append(kept, e)
	}
	c.entries = kept
}

// Snapshot returns a copy of all entries in arrival order, for persistence.
func (c *Cache) Snapshot() []core.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Message, len(c.entries))
	copy(out, c.entries)
	return out
}

// Restore replaces the cache contents with previously persisted entries.
// Sequence numbering continues past the highest restored value.
func (c *Cache) Restore(entries []core.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make([]core.Message, len(entries))
	copy(c.entries, entries)
	c.nextSeq = 1
	for _, e := range entries {
		if e.Seq >= c.nextSeq {
			c.nextSeq = e.Seq + 1
		}
	}
	c.evictLocked()
}

// Clear removes every entry, used or not.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
}

// Len reports the total number of retained entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// UnusedLen reports the number of unused entries.
func (c *Cache) UnusedLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if !e.Used {
			n++
		}
	}
	return n
}
