// Package agent implements the per-agent lifecycle: the Idle, Triggered,
// Processing and Removed states, the activation cycle that drains unused
// cache entries through the reasoning collaborator and republishes the
// parsed directives, bounded retry with poison-skip, and the factory that
// constructs agents from registered kind names. Agents are flat peers wired
// by registry connections; specialized producer/consumer roles are
// capability flags, not subtypes.
package agent
