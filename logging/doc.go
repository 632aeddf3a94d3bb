// Package logging provides a small abstraction over slog so the rest of the
// module depends on a minimal Logger interface. Users can plug any
// structured logger; components default to NoOpLogger when given nil.
package logging
