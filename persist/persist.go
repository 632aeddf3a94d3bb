// Package persist serializes and restores system state: per-agent
// snapshots of instruction, self state, cache entries and routing, grouped
// into named checkpoints. Adapters exist for YAML files and SQLite; the
// checkpoint manager adds naming, retention and periodic auto-save on top
// of any adapter.
package persist

import (
	"context"
	"errors"
	"time"

	"github.com/synapse-agents/synapse/core"
)

// ErrNotFound is returned when loading a checkpoint name that does not
// exist in the adapter's store.
var ErrNotFound = errors.New("persist: checkpoint not found")

// AgentSnapshot captures everything needed to recreate one agent through
// the factory and restore its runtime state.
type AgentSnapshot struct {
	ID                 string              `yaml:"id" json:"id"`
	Kind               string              `yaml:"kind" json:"kind"`
	Instruction        string              `yaml:"instruction,omitempty" json:"instruction,omitempty"`
	SelfState          string              `yaml:"self_state,omitempty" json:"self_state,omitempty"`
	ActivationKeywords []string            `yaml:"activation_keywords,omitempty" json:"activation_keywords,omitempty"`
	Outputs            map[string][]string `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	Discoverable       []string            `yaml:"discoverable,omitempty" json:"discoverable,omitempty"`
	Entries            []core.Message      `yaml:"entries,omitempty" json:"entries,omitempty"`
}

// Snapshot is a full-system checkpoint.
type Snapshot struct {
	TakenAt time.Time       `yaml:"taken_at" json:"taken_at"`
	Agents  []AgentSnapshot `yaml:"agents" json:"agents"`
}

// Adapter stores named snapshots. Implementations must be safe for
// concurrent use.
type Adapter interface {
	Save(ctx context.Context, name string, snap Snapshot) error
	Load(ctx context.Context, name string) (Snapshot, error)
	// List returns stored checkpoint names in lexicographic order.
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// NopAdapter discards saves and never finds anything. Used when
// persistence is disabled.
type NopAdapter struct{}

var _ Adapter = NopAdapter{}

func (NopAdapter) Save(context.Context, string, Snapshot) error { return nil }

func (NopAdapter) Load(context.Context, string) (Snapshot, error) {
	return Snapshot{}, ErrNotFound
}

func (NopAdapter) List(context.Context) ([]string, error) { return nil, nil }

func (NopAdapter) Delete(context.Context, string) error { return nil }
