// Package registry maintains the live routing graph: which agents exist,
// the directed keyword-tagged connections between them, and which agents
// are discoverable for dynamic wiring (explore/seek). Reads return
// immutable snapshots so deliveries already resolved are unaffected by
// concurrent mutation. Locking is fine-grained: a membership RWMutex plus
// one mutex per member, never a single lock serializing the whole bus.
package registry
