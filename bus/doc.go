// Package bus is the asynchronous message bus and activation scheduler. It
// owns the agent set and the shared connection registry, fans published
// messages out to destination caches, wakes triggered agents, and runs
// their activations on a bounded worker pool. A publish never blocks on
// downstream processing; delivery is an append plus a trigger note.
package bus
