// Package journal keeps a bounded in-memory record of bus deliveries for
// inspection and debugging. It observes the bus through its delivery hook
// and never sits on the delivery path's critical section.
package journal

import (
	"strings"
	"sync"
	"time"
)

// Entry is one recorded delivery.
type Entry struct {
	Time    time.Time
	Source  string
	Dest    string
	Keyword string
	Payload string
}

// DefaultCapacity bounds the journal when no capacity is configured.
const DefaultCapacity = 4096

// Options configures a Journal.
type Options struct {
	// Capacity bounds the number of retained entries; the oldest are
	// dropped first. DefaultCapacity if zero or negative.
	Capacity int
}

// Journal is a concurrency-safe ring of recent deliveries.
type Journal struct {
	mu       sync.Mutex
	capacity int
	entries  []Entry
	now      func() time.Time
}

// New constructs an empty journal.
func New(optFns ...func(o *Options)) *Journal {
	opts := Options{Capacity: DefaultCapacity}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	return &Journal{capacity: opts.Capacity, now: time.Now}
}

// Record appends one delivery. Matches the bus OnDeliver hook signature.
func (j *Journal) Record(source, dest, keyword, payload string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, Entry{
		Time:    j.now(),
		Source:  source,
		Dest:    dest,
		Keyword: keyword,
		Payload: payload,
	})
	if over := len(j.entries) - j.capacity; over > 0 {
		j.entries = j.entries[over:]
	}
}

// Len returns the number of retained entries.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// Recent returns the newest n entries, oldest first. n <= 0 returns all.
func (j *Journal) Recent(n int) []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	if n <= 0 || n > len(j.entries) {
		n = len(j.entries)
	}
	out := make([]Entry, n)
	copy(out, j.entries[len(j.entries)-n:])
	return out
}

// Search returns entries whose payload or keyword contains the query,
// oldest first. An empty query matches everything.
func (j *Journal) Search(query string) []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []Entry
	for _, e := range j.entries {
		if query == "" ||
			strings.Contains(e.Payload, query) ||
			strings.Contains(e.Keyword, query) {
			out = append(out, e)
		}
	}
	return out
}

// ByAgent returns entries delivered to or sent by the agent, oldest first.
func (j *Journal) ByAgent(id string) []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []Entry
	for _, e := range j.entries {
		if e.Source == id || e.Dest == id {
			out = append(out, e)
		}
	}
	return out
}

// Clear drops all entries.
func (j *Journal) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = nil
}
