// Package core defines the shared data model of the Synapse message bus:
// cached messages, reasoning directives, registry control signals and the
// failure taxonomy used by counters and structured log events. It contains
// no behavior beyond small value-type helpers so that every other package
// can depend on it without cycles.
package core
