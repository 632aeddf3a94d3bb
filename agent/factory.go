package agent

import (
	"fmt"
	"sync"
	"time"
)

// Config is the declarative description a factory constructor receives.
// It mirrors what topology files and snapshots carry for one agent.
type Config struct {
	ID                 string
	Kind               string
	Instruction        string
	SelfState          string
	ActivationKeywords []string
	CacheCapacity      int
	Dedup              bool
	MaxRetries         int
	Timeout            time.Duration
	CanProduce         bool
	CanConsume         bool
	// Output is a kind-specific target, e.g. the path of a file sink.
	Output string
}

// Constructor builds an agent of one kind from its config.
type Constructor func(cfg Config) (*Agent, error)

// Factory maps kind names to constructors so topologies and snapshots can
// recreate agents by kind.
type Factory struct {
	mu    sync.RWMutex
	kinds map[string]Constructor
}

// NewFactory creates an empty factory.
func NewFactory() *Factory {
	return &Factory{kinds: make(map[string]Constructor)}
}

// Register binds a kind name to a constructor, replacing any previous
// binding for the same kind.
func (f *Factory) Register(kind string, c Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds[kind] = c
}

// Kinds returns the registered kind names.
func (f *Factory) Kinds() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.kinds))
	for k := range f.kinds {
		out = append(out, k)
	}
	return out
}

// New constructs an agent of the given kind.
func (f *Factory) New(kind string, cfg Config) (*Agent, error) {
	f.mu.RLock()
	c, ok := f.kinds[kind]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("agent: unknown kind %q", kind)
	}
	cfg.Kind = kind
	return c(cfg)
}

// ApplyConfig copies a Config onto Options. Constructors use it so kind
// implementations only add what differs.
func ApplyConfig(cfg Config) func(o *Options) {
	return func(o *Options) {
		o.ID = cfg.ID
		if cfg.Kind != "" {
			o.Kind = cfg.Kind
		}
		o.Instruction = StaticInstruction(cfg.Instruction)
		o.SelfState = cfg.SelfState
		o.ActivationKeywords = cfg.ActivationKeywords
		o.CacheCapacity = cfg.CacheCapacity
		o.Dedup = cfg.Dedup
		if cfg.MaxRetries > 0 {
			o.MaxRetries = cfg.MaxRetries
		}
		if cfg.Timeout > 0 {
			o.Timeout = cfg.Timeout
		}
		o.CanProduce = cfg.CanProduce
		o.CanConsume = cfg.CanConsume
	}
}
