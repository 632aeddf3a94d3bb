// Package config loads and validates the YAML topology file describing a
// Synapse system: agents, their wiring, discoverability, the timer
// schedule and the persistence backend.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/synapse-agents/synapse/edge"
)

// Reserved external producer ids. They may appear as connection sources
// without being declared as agents; the system wires them to the timer and
// stdin producers.
const (
	ProducerScheduler = "scheduler"
	ProducerStdin     = "stdin"
)

var reservedProducers = map[string]bool{
	ProducerScheduler: true,
	ProducerStdin:     true,
}

// AgentConfig declares one agent in the topology.
type AgentConfig struct {
	ID                 string        `yaml:"id"`
	Kind               string        `yaml:"kind"`
	Instruction        string        `yaml:"instruction,omitempty"`
	SelfState          string        `yaml:"self_state,omitempty"`
	ActivationKeywords []string      `yaml:"activation_keywords,omitempty"`
	CacheCapacity      int           `yaml:"cache_capacity,omitempty"`
	Dedup              bool          `yaml:"dedup,omitempty"`
	MaxRetries         int           `yaml:"max_retries,omitempty"`
	Timeout            edge.Duration `yaml:"timeout,omitempty"`
	// Discoverable lists keywords the agent advertises for seek from the
	// start, without waiting for an explore signal.
	Discoverable []string `yaml:"discoverable,omitempty"`
	Produce      bool     `yaml:"produce,omitempty"`
	Consume      bool     `yaml:"consume,omitempty"`
	// Output is passed through to kind constructors that write somewhere,
	// e.g. the file sink's path.
	Output string `yaml:"output,omitempty"`
}

// ConnectionConfig declares one routing edge.
type ConnectionConfig struct {
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`
	Keyword     string `yaml:"keyword"`
}

// PersistenceConfig selects and tunes the checkpoint backend.
type PersistenceConfig struct {
	// Backend is "file", "sqlite" or "none" (default).
	Backend string `yaml:"backend,omitempty"`
	// Path is the checkpoint directory (file) or database file (sqlite).
	Path string `yaml:"path,omitempty"`
	// Interval enables periodic auto-save when positive.
	Interval edge.Duration `yaml:"interval,omitempty"`
	// Keep bounds retained checkpoints. 0 keeps all.
	Keep int `yaml:"keep,omitempty"`
	// Resume loads the latest checkpoint on startup.
	Resume bool `yaml:"resume,omitempty"`
}

// LoggingConfig tunes the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// Config is the root of a topology file.
type Config struct {
	Agents      []AgentConfig        `yaml:"agents"`
	Connections []ConnectionConfig   `yaml:"connections,omitempty"`
	Schedule    []edge.ScheduleEntry `yaml:"schedule,omitempty"`
	Persistence PersistenceConfig    `yaml:"persistence,omitempty"`
	Logging     LoggingConfig        `yaml:"logging,omitempty"`
	// Workers bounds concurrent activations. Zero uses the bus default.
	Workers int `yaml:"workers,omitempty"`
}

// Load reads and validates a topology file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks internal consistency: unique agent ids, connections
// referencing declared agents, sane backend and schedule values.
func (c *Config) Validate() error {
	if len(c.Agents) == 0 {
		return fmt.Errorf("config: at least one agent required")
	}

	ids := make(map[string]struct{}, len(c.Agents))
	for i, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("config: agent %d: id required", i)
		}
		if a.Kind == "" {
			return fmt.Errorf("config: agent %q: kind required", a.ID)
		}
		if _, dup := ids[a.ID]; dup {
			return fmt.Errorf("config: duplicate agent id %q", a.ID)
		}
		ids[a.ID] = struct{}{}
		if a.CacheCapacity < 0 {
			return fmt.Errorf("config: agent %q: cache_capacity must not be negative", a.ID)
		}
		if a.MaxRetries < 0 {
			return fmt.Errorf("config: agent %q: max_retries must not be negative", a.ID)
		}
	}

	for i, conn := range c.Connections {
		if conn.Keyword == "" {
			return fmt.Errorf("config: connection %d: keyword required", i)
		}
		if _, ok := ids[conn.Source]; !ok && !reservedProducers[conn.Source] {
			return fmt.Errorf("config: connection %d: unknown source %q", i, conn.Source)
		}
		if _, ok := ids[conn.Destination]; !ok {
			return fmt.Errorf("config: connection %d: unknown destination %q", i, conn.Destination)
		}
	}

	for i, e := range c.Schedule {
		if e.Keyword == "" {
			return fmt.Errorf("config: schedule entry %d: keyword required", i)
		}
		if time.Duration(e.Interval) <= 0 {
			return fmt.Errorf("config: schedule entry %d: interval must be positive", i)
		}
	}

	switch c.Persistence.Backend {
	case "", "none", "file", "sqlite":
	default:
		return fmt.Errorf("config: unknown persistence backend %q", c.Persistence.Backend)
	}
	if (c.Persistence.Backend == "file" || c.Persistence.Backend == "sqlite") && c.Persistence.Path == "" {
		return fmt.Errorf("config: persistence backend %q requires a path", c.Persistence.Backend)
	}
	return nil
}
