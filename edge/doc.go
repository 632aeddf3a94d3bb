// Package edge holds the system boundary: producers that inject external
// input onto the bus (timers, stdin) and sinks that carry consumed
// messages out (console, files, interactive feedback). Producers publish
// through the core Publisher interface; sinks plug into consumer agents.
package edge
