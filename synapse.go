// Package synapse assembles the full system from a topology config: the
// message bus and its agents, the timer and stdin producers at the edge,
// the delivery journal, and checkpoint persistence with optional resume
// and auto-save.
package synapse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/synapse-agents/synapse/agent"
	"github.com/synapse-agents/synapse/bus"
	"github.com/synapse-agents/synapse/config"
	"github.com/synapse-agents/synapse/edge"
	"github.com/synapse-agents/synapse/journal"
	"github.com/synapse-agents/synapse/logging"
	"github.com/synapse-agents/synapse/persist"
	reasonanthropic "github.com/synapse-agents/synapse/reason/anthropic"
	reasonopenai "github.com/synapse-agents/synapse/reason/openai"
)

// Options configures System construction beyond what the topology file
// carries.
type Options struct {
	Logger logging.Logger
	// Factory supplies agent kinds. When nil a factory with the builtin
	// kinds (openai, anthropic, console, file, feedback) is used.
	Factory *agent.Factory
	// Adapter overrides the persistence backend chosen by the config.
	Adapter persist.Adapter
	// Input feeds the stdin producer and the feedback sink. Defaults to
	// os.Stdin.
	Input io.Reader
	// Output receives console and feedback sink output. Defaults to
	// os.Stdout.
	Output io.Writer
	// StdinKeyword is the default keyword for stdin lines without an
	// explicit "keyword:" prefix.
	StdinKeyword string
}

// System wires a configured topology together and runs it.
type System struct {
	cfg     *config.Config
	logger  logging.Logger
	bus     *bus.Bus
	factory *agent.Factory
	journal *journal.Journal
	timer   *edge.Timer
	stdin   *edge.StdinProducer
	ckpt    *persist.Checkpointer
	closer  io.Closer
}

// New builds a System from a validated config. Agents are constructed
// through the factory, connections and discoverability applied, and the
// latest checkpoint overlaid when resume is enabled.
func New(cfg *config.Config, optFns ...func(o *Options)) (*System, error) {
	opts := Options{
		Input:        os.Stdin,
		Output:       os.Stdout,
		StdinKeyword: "input",
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.New(&logging.Config{
			Level:  logging.ParseLevel(cfg.Logging.Level),
			Format: cfg.Logging.Format,
		})
	}

	s := &System{
		cfg:     cfg,
		logger:  logger,
		journal: journal.New(),
	}

	s.bus = bus.New(func(o *bus.Options) {
		o.Workers = cfg.Workers
		o.Logger = logger
		o.OnDeliver = s.journal.Record
		o.OnActivation = s.activationCheckpoint
	})

	s.factory = opts.Factory
	if s.factory == nil {
		s.factory = agent.NewFactory()
		s.registerBuiltins(opts)
	}

	if err := s.buildAgents(); err != nil {
		return nil, err
	}
	if err := s.wire(); err != nil {
		return nil, err
	}
	if err := s.setupPersistence(opts); err != nil {
		return nil, err
	}
	s.setupEdges(opts)
	return s, nil
}

// registerBuiltins installs the default agent kinds. Model kinds read
// their API keys from the environment through the SDK clients.
func (s *System) registerBuiltins(opts Options) {
	logger := s.logger

	s.factory.Register("openai", func(cfg agent.Config) (*agent.Agent, error) {
		return agent.New(reasonopenai.New(), agent.ApplyConfig(cfg), func(o *agent.Options) {
			o.Logger = logger
		}), nil
	})
	s.factory.Register("anthropic", func(cfg agent.Config) (*agent.Agent, error) {
		return agent.New(reasonanthropic.New(), agent.ApplyConfig(cfg), func(o *agent.Options) {
			o.Logger = logger
		}), nil
	})
	s.factory.Register("console", func(cfg agent.Config) (*agent.Agent, error) {
		return agent.New(nil, agent.ApplyConfig(cfg), func(o *agent.Options) {
			o.Logger = logger
			o.CanConsume = true
			o.Sink = edge.ConsoleSink(opts.Output)
		}), nil
	})
	s.factory.Register("file", func(cfg agent.Config) (*agent.Agent, error) {
		if cfg.Output == "" {
			return nil, fmt.Errorf("synapse: file agent %q requires an output path", cfg.ID)
		}
		return agent.New(nil, agent.ApplyConfig(cfg), func(o *agent.Options) {
			o.Logger = logger
			o.CanConsume = true
			o.Sink = edge.FileSink(cfg.Output)
		}), nil
	})
	s.factory.Register("feedback", func(cfg agent.Config) (*agent.Agent, error) {
		return agent.New(nil, agent.ApplyConfig(cfg), func(o *agent.Options) {
			o.Logger = logger
			o.CanConsume = true
			o.CanProduce = true
			o.Sink = edge.FeedbackSink(s.bus, cfg.ID, "feedback", opts.Input, opts.Output)
		}), nil
	})
}

func (s *System) buildAgents() error {
	for _, ac := range s.cfg.Agents {
		a, err := s.factory.New(ac.Kind, agent.Config{
			ID:                 ac.ID,
			Instruction:        ac.Instruction,
			SelfState:          ac.SelfState,
			ActivationKeywords: ac.ActivationKeywords,
			CacheCapacity:      ac.CacheCapacity,
			Dedup:              ac.Dedup,
			MaxRetries:         ac.MaxRetries,
			Timeout:            time.Duration(ac.Timeout),
			CanProduce:         ac.Produce,
			CanConsume:         ac.Consume,
			Output:             ac.Output,
		})
		if err != nil {
			return fmt.Errorf("synapse: build agent %q: %w", ac.ID, err)
		}
		if err := s.bus.AddAgent(a); err != nil {
			return err
		}
	}
	return nil
}

func (s *System) wire() error {
	reg := s.bus.Registry()
	for _, conn := range s.cfg.Connections {
		if !reg.Contains(conn.Source) {
			// Reserved producer ids get a registry entry on first use.
			if err := reg.Register(conn.Source); err != nil {
				return err
			}
		}
		if err := reg.AddConnection(conn.Source, conn.Destination, conn.Keyword); err != nil {
			return fmt.Errorf("synapse: connect %s -> %s: %w", conn.Source, conn.Destination, err)
		}
	}
	for _, ac := range s.cfg.Agents {
		for _, kw := range ac.Discoverable {
			if err := reg.MarkDiscoverable(ac.ID, kw, true); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *System) setupPersistence(opts Options) error {
	adapter := opts.Adapter
	if adapter == nil {
		var err error
		switch s.cfg.Persistence.Backend {
		case "file":
			adapter, err = persist.NewFileAdapter(s.cfg.Persistence.Path)
		case "sqlite":
			var sa *persist.SQLiteAdapter
			sa, err = persist.NewSQLiteAdapter(s.cfg.Persistence.Path)
			if sa != nil {
				s.closer = sa
			}
			adapter = sa
		default:
			adapter = persist.NopAdapter{}
		}
		if err != nil {
			return err
		}
	}

	s.ckpt = persist.NewCheckpointer(adapter, s.Snapshot, func(o *persist.CheckpointOptions) {
		o.Keep = s.cfg.Persistence.Keep
		o.Logger = s.logger
	})

	if s.cfg.Persistence.Resume {
		snap, name, err := s.ckpt.LoadLatest(context.Background())
		switch {
		case errors.Is(err, persist.ErrNotFound):
			s.logger.Info("no checkpoint to resume from")
		case err != nil:
			return err
		default:
			s.restore(snap)
			s.logger.Info("resumed from checkpoint", "name", name)
		}
	}
	return nil
}

func (s *System) setupEdges(opts Options) {
	if len(s.cfg.Schedule) > 0 {
		reg := s.bus.Registry()
		if !reg.Contains(config.ProducerScheduler) {
			if err := reg.Register(config.ProducerScheduler); err != nil {
				s.logger.Warn("scheduler registration failed", "error", err)
			}
		}
		s.timer = edge.NewTimer(s.bus, config.ProducerScheduler, s.cfg.Schedule, func(o *edge.TimerOptions) {
			o.Logger = s.logger
		})
	}
	if s.bus.Registry().Contains(config.ProducerStdin) {
		s.stdin = edge.NewStdinProducer(s.bus, config.ProducerStdin, opts.StdinKeyword, func(o *edge.StdinOptions) {
			o.Reader = opts.Input
			o.Logger = s.logger
		})
	}
}

// activationCheckpoint saves after each successful activation when a
// backend is configured without a periodic interval. Best effort; a
// failed save only logs.
func (s *System) activationCheckpoint(a *agent.Agent, _ agent.Report) {
	if s.ckpt == nil || time.Duration(s.cfg.Persistence.Interval) > 0 {
		return
	}
	if s.cfg.Persistence.Backend != "file" && s.cfg.Persistence.Backend != "sqlite" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.ckpt.Save(ctx); err != nil {
		s.logger.Warn("checkpoint after activation failed",
			"agent_id", a.ID(), "error", err)
	}
}

// Bus exposes the underlying message bus.
func (s *System) Bus() *bus.Bus { return s.bus }

// Journal exposes the delivery journal.
func (s *System) Journal() *journal.Journal { return s.journal }

// Checkpointer exposes checkpoint save, list and load operations.
func (s *System) Checkpointer() *persist.Checkpointer { return s.ckpt }

// Snapshot captures the live state of every agent: self state, cache
// entries, outgoing connections and discoverability.
func (s *System) Snapshot(context.Context) persist.Snapshot {
	reg := s.bus.Registry()
	snap := persist.Snapshot{TakenAt: time.Now()}
	for _, id := range s.bus.AgentIDs() {
		a := s.bus.Agent(id)
		if a == nil {
			continue
		}
		as := persist.AgentSnapshot{
			ID:                 id,
			Kind:               a.Kind(),
			Instruction:        a.InstructionText(),
			SelfState:          a.SelfState(),
			ActivationKeywords: a.ActivationKeywords(),
			Entries:            a.Cache().Snapshot(),
		}
		if d, ok := reg.Describe(id); ok {
			as.Outputs = d.Outputs
			as.Discoverable = d.Discoverable
		}
		snap.Agents = append(snap.Agents, as)
	}
	return snap
}

// restore overlays a checkpoint onto the configured topology. Agents are
// always constructed from config; the snapshot contributes self state,
// cache contents and learned routing for the ids present in both.
func (s *System) restore(snap persist.Snapshot) {
	reg := s.bus.Registry()
	for _, as := range snap.Agents {
		a := s.bus.Agent(as.ID)
		if a == nil {
			s.logger.Warn("checkpoint agent not in topology, skipping", "agent_id", as.ID)
			continue
		}
		a.SetSelfState(as.SelfState)
		a.Cache().Restore(as.Entries)
		for kw, dests := range as.Outputs {
			for _, dest := range dests {
				if err := reg.AddConnection(as.ID, dest, kw); err != nil {
					s.logger.Warn("restore connection failed", "agent_id", as.ID, "error", err)
				}
			}
		}
		for _, kw := range as.Discoverable {
			if err := reg.MarkDiscoverable(as.ID, kw, true); err != nil {
				s.logger.Warn("restore discoverable failed", "agent_id", as.ID, "error", err)
			}
		}
		if a.Cache().UnusedLen() > 0 {
			s.bus.Trigger(as.ID)
		}
	}
}

// Run starts the bus, producers and auto-save loop, blocking until ctx is
// done, then saves a final checkpoint when persistence is configured.
func (s *System) Run(ctx context.Context) error {
	if err := s.bus.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.timer != nil {
		g.Go(func() error {
			err := s.timer.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	if s.stdin != nil {
		// Not part of the wait group: a blocked terminal read cannot be
		// interrupted by cancellation and must not hold up shutdown.
		go func() {
			if err := s.stdin.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("stdin producer stopped", "error", err)
			}
		}()
	}
	if interval := time.Duration(s.cfg.Persistence.Interval); interval > 0 {
		g.Go(func() error {
			err := s.ckpt.Run(gctx, interval)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	<-ctx.Done()
	err := g.Wait()

	if stopErr := s.bus.Stop(); stopErr != nil && err == nil {
		err = stopErr
	}

	if s.cfg.Persistence.Backend == "file" || s.cfg.Persistence.Backend == "sqlite" {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, serr := s.ckpt.Save(sctx); serr != nil {
			s.logger.Error("final checkpoint failed", "error", serr)
		}
	}
	return err
}

// Close releases backend resources.
func (s *System) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
