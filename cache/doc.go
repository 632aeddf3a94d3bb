// Package cache implements the per-agent inbound message store. Entries are
// kept in arrival order under monotonically increasing sequence numbers,
// carry a used/unused flag that is set exactly once, and are bounded by a
// capacity that evicts oldest used entries first. A configurable dedup pass
// (Reduce) collapses runs of superseded unused entries from the same sender
// and keyword into the most recent one.
package cache
