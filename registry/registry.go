package registry

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

var (
	// ErrDuplicateAgent is returned when registering an id that exists.
	// Duplicate creation is the one registry failure fatal to the caller.
	ErrDuplicateAgent = errors.New("registry: duplicate agent id")
	// ErrAgentNotFound is returned when an operation names an unknown agent.
	ErrAgentNotFound = errors.New("registry: agent not found")
)

// Description reports an agent's routing surface for discovery: the output
// keywords it publishes (with current destinations), the input keywords it
// expects per source, and the keywords it is discoverable under.
type Description struct {
	ID           string
	Outputs      map[string][]string
	Inputs       map[string]string
	Discoverable []string
}

// member holds one agent's routing state under its own lock.
type member struct {
	mu           sync.Mutex
	outputs      map[string][]string // keyword -> ordered destination ids
	inputs       map[string]string   // source id -> expected keyword
	discoverable map[string]struct{}
}

// Registry is the concurrency-safe routing graph. The zero value is not
// usable; construct with New.
type Registry struct {
	mu      sync.RWMutex
	members map[string]*member
	order   []string // registration order, for deterministic Seek results
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{members: make(map[string]*member)}
}

// Register adds an agent id. Registering an existing id fails with
// ErrDuplicateAgent.
func (r *Registry) Register(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAgent, id)
	}
	r.members[id] = &member{
		outputs:      make(map[string][]string),
		inputs:       make(map[string]string),
		discoverable: make(map[string]struct{}),
	}
	r.order = append(r.order, id)
	return nil
}

// Deregister removes an agent id and its own routing state. Connections
// held by other agents that point at the removed id are left in place and
// pruned lazily on failed delivery.
func (r *Registry) Deregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[id]; !ok {
		return false
	}
	delete(r.members, id)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
	return true
}

// Contains reports whether the id is registered.
func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[id]
	return ok
}

// IDs returns all registered ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

func (r *Registry) lookup(id string) (*member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[id]
	return m, ok
}

// AddConnection records the (source, destination, keyword) triple.
// Idempotent: adding an identical triple twice is a no-op. The destination's
// expected input keyword for the source is recorded when the destination is
// registered; a missing destination is not an error (it may appear later,
// or be pruned on delivery).
func (r *Registry) AddConnection(source, destination, keyword string) error {
	src, ok := r.lookup(source)
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, source)
	}

	src.mu.Lock()
	dsts := src.outputs[keyword]
	if !slices.Contains(dsts, destination) {
		src.outputs[keyword] = append(dsts, destination)
	}
	src.mu.Unlock()

	if dst, ok := r.lookup(destination); ok {
		dst.mu.Lock()
		dst.inputs[source] = keyword
		dst.mu.Unlock()
	}
	return nil
}

// RemoveConnection removes the triple. It reports whether the connection
// existed; removal never disturbs deliveries already resolved, which run
// against the snapshot Resolve returned.
func (r *Registry) RemoveConnection(source, destination, keyword string) bool {
	src, ok := r.lookup(source)
	if !ok {
		return false
	}

	src.mu.Lock()
	dsts := src.outputs[keyword]
	idx := slices.Index(dsts, destination)
	if idx >= 0 {
		src.outputs[keyword] = slices.Delete(dsts, idx, idx+1)
		if len(src.outputs[keyword]) == 0 {
			delete(src.outputs, keyword)
		}
	}
	src.mu.Unlock()

	if idx < 0 {
		return false
	}
	if dst, ok := r.lookup(destination); ok {
		dst.mu.Lock()
		if dst.inputs[source] == keyword {
			delete(dst.inputs, source)
		}
		dst.mu.Unlock()
	}
	return true
}

// RemoveInputConnections drops every input connection of the agent tagged
// with keyword, removing the matching output side from each source. Returns
// the ids of the disconnected sources.
func (r *Registry) RemoveInputConnections(id, keyword string) []string {
	m, ok := r.lookup(id)
	if !ok {
		return nil
	}

	m.mu.Lock()
	var sources []string
	for src, kw := range m.inputs {
		if kw == keyword {
			sources = append(sources, src)
			delete(m.inputs, src)
		}
	}
	m.mu.Unlock()

	for _, src := range sources {
		if sm, ok := r.lookup(src); ok {
			sm.mu.Lock()
			dsts := sm.outputs[keyword]
			if idx := slices.Index(dsts, id); idx >= 0 {
				sm.outputs[keyword] = slices.Delete(dsts, idx, idx+1)
				if len(sm.outputs[keyword]) == 0 {
					delete(sm.outputs, keyword)
				}
			}
			sm.mu.Unlock()
		}
	}
	return sources
}

// Resolve returns an immutable snapshot of the destination ids the source
// publishes keyword to. It never blocks on other registry operations beyond
// the source member's own lock.
func (r *Registry) Resolve(source, keyword string) []string {
	m, ok := r.lookup(source)
	if !ok {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.outputs[keyword])
}

// Prune removes every output connection from source to destination across
// all keywords. Used for lazy cleanup after a failed delivery.
func (r *Registry) Prune(source, destination string) int {
	m, ok := r.lookup(source)
	if !ok {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	pruned := 0
	for kw, dsts := range m.outputs {
		if idx := slices.Index(dsts, destination); idx >= 0 {
			m.outputs[kw] = slices.Delete(dsts, idx, idx+1)
			if len(m.outputs[kw]) == 0 {
				delete(m.outputs, kw)
			}
			pruned++
		}
	}
	return pruned
}

// MarkDiscoverable toggles whether the agent advertises keyword for Seek.
// This is the "explore" side of dynamic wiring.
func (r *Registry) MarkDiscoverable(id, keyword string, on bool) error {
	m, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if on {
		m.discoverable[keyword] = struct{}{}
	} else {
		delete(m.discoverable, keyword)
	}
	return nil
}

// Seek returns every agent discoverable under keyword, in registration
// order. The registry does not arbitrate between candidates; the caller
// (or its reasoning step) picks.
func (r *Registry) Seek(keyword string) []string {
	r.mu.RLock()
	ids := slices.Clone(r.order)
	members := make([]*member, 0, len(ids))
	for _, id := range ids {
		members = append(members, r.members[id])
	}
	r.mu.RUnlock()

	var out []string
	for i, m := range members {
		m.mu.Lock()
		_, ok := m.discoverable[keyword]
		m.mu.Unlock()
		if ok {
			out = append(out, ids[i])
		}
	}
	return out
}

// Describe reports the agent's routing surface. All maps and slices are
// copies.
func (r *Registry) Describe(id string) (Description, bool) {
	m, ok := r.lookup(id)
	if !ok {
		return Description{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	d := Description{
		ID:      id,
		Outputs: make(map[string][]string, len(m.outputs)),
		Inputs:  make(map[string]string, len(m.inputs)),
	}
	for kw, dsts := range m.outputs {
		d.Outputs[kw] = slices.Clone(dsts)
	}
	for src, kw := range m.inputs {
		d.Inputs[src] = kw
	}
	for kw := range m.discoverable {
		d.Discoverable = append(d.Discoverable, kw)
	}
	slices.Sort(d.Discoverable)
	return d, true
}

// OutputKeywords returns the keywords the agent currently publishes,
// sorted. Used when assembling the reasoning instruction.
func (r *Registry) OutputKeywords(id string) []string {
	m, ok := r.lookup(id)
	if !ok {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.outputs))
	for kw := range m.outputs {
		out = append(out, kw)
	}
	slices.Sort(out)
	return out
}
