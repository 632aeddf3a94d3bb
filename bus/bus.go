package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/synapse-agents/synapse/agent"
	"github.com/synapse-agents/synapse/core"
	"github.com/synapse-agents/synapse/logging"
	"github.com/synapse-agents/synapse/registry"
)

// Options configures a Bus.
type Options struct {
	// Workers bounds how many activations run concurrently across the
	// whole bus. Per-agent exclusion still holds within the pool.
	Workers int
	// OnActivation, when set, runs after every successful activation with
	// the agent and its report. Checkpointing and journaling hook in here.
	OnActivation func(a *agent.Agent, rep agent.Report)
	// OnFailure, when set, receives every recorded failure event.
	OnFailure func(f core.Failure)
	// OnDeliver, when set, observes every successful delivery. The journal
	// hooks in here.
	OnDeliver func(sourceID, destID, keyword, payload string)
	Logger    logging.Logger
}

// Bus owns the agent set, the routing registry and the activation
// scheduler. It implements agent.Env so activations publish back through
// it.
type Bus struct {
	reg      *registry.Registry
	counters *Counters
	logger   logging.Logger

	workers      int
	onActivation func(a *agent.Agent, rep agent.Report)
	onFailure    func(f core.Failure)
	onDeliver    func(sourceID, destID, keyword, payload string)

	mu     sync.RWMutex
	agents map[string]*agent.Agent

	qmu   sync.Mutex
	queue []string
	wake  chan struct{}

	runMu   sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	running bool
}

var _ agent.Env = (*Bus)(nil)

// New constructs a stopped bus. Call Start before publishing if agents
// should activate; publishes before Start still deliver and queue.
func New(optFns ...func(o *Options)) *Bus {
	opts := Options{Workers: 4}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	return &Bus{
		reg:          registry.New(),
		counters:     NewCounters(),
		logger:       logging.OrNoOp(opts.Logger),
		workers:      opts.Workers,
		onActivation: opts.OnActivation,
		onFailure:    opts.OnFailure,
		onDeliver:    opts.OnDeliver,
		agents:       make(map[string]*agent.Agent),
		wake:         make(chan struct{}, 1),
	}
}

// Registry returns the shared routing graph.
func (b *Bus) Registry() *registry.Registry { return b.reg }

// Counters returns the bus failure and delivery counters.
func (b *Bus) Counters() *Counters { return b.counters }

// Agent returns a registered agent, or nil.
func (b *Bus) Agent(id string) *agent.Agent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.agents[id]
}

// AgentIDs returns the ids of all registered agents in registry order.
func (b *Bus) AgentIDs() []string {
	return b.reg.IDs()
}

// AddAgent registers an agent with the bus and the registry. A duplicate
// id is the one fatal registration error. An agent restored with unused
// cache entries is triggered immediately.
func (b *Bus) AddAgent(a *agent.Agent) error {
	if err := b.reg.Register(a.ID()); err != nil {
		return fmt.Errorf("bus: add agent: %w", err)
	}
	b.mu.Lock()
	b.agents[a.ID()] = a
	b.mu.Unlock()

	b.logger.Info("agent added", "agent_id", a.ID(), "kind", a.Kind())

	if a.Cache().UnusedLen() > 0 && a.Trigger() {
		b.enqueue(a.ID())
	}
	return nil
}

// RemoveAgent deregisters an agent. Connections pointing at it from other
// agents are pruned lazily on their next delivery attempt; an in-flight
// activation finishes with its outputs suppressed.
func (b *Bus) RemoveAgent(id string) bool {
	b.mu.Lock()
	a, ok := b.agents[id]
	if ok {
		delete(b.agents, id)
	}
	b.mu.Unlock()
	if !ok {
		return false
	}

	a.Remove()
	b.reg.Deregister(id)
	b.logger.Info("agent removed", "agent_id", id)
	return true
}

// Connect adds a routing connection between two agents.
func (b *Bus) Connect(source, destination, keyword string) error {
	return b.reg.AddConnection(source, destination, keyword)
}

// Publish fans a message out to every destination the registry resolves
// for (sourceID, keyword) and returns the number of deliveries made. It
// appends to destination caches and wakes triggered agents; it never
// waits for any activation.
func (b *Bus) Publish(ctx context.Context, sourceID, keyword, payload string) int {
	dests := b.reg.Resolve(sourceID, keyword)
	delivered := 0
	for _, dest := range dests {
		if b.deliver(ctx, sourceID, dest, keyword, payload, true) {
			delivered++
		}
	}
	b.counters.addDelivered(delivered)
	return delivered
}

// PublishTo delivers directly to one destination, bypassing connection
// resolution. Used for directives with a destination hint and by external
// producers addressing a specific agent.
func (b *Bus) PublishTo(ctx context.Context, sourceID, destID, keyword, payload string) bool {
	ok := b.deliver(ctx, sourceID, destID, keyword, payload, false)
	if ok {
		b.counters.addDelivered(1)
	}
	return ok
}

func (b *Bus) deliver(_ context.Context, sourceID, dest, keyword, payload string, resolved bool) bool {
	a := b.Agent(dest)
	if a == nil || a.State() == agent.StateRemoved {
		b.recordFailure(core.Failure{Kind: core.FailureDeliveryMiss, AgentID: dest})
		b.logger.Warn("delivery miss", "source", sourceID, "destination", dest, "keyword", keyword)
		if resolved {
			if pruned := b.reg.Prune(sourceID, dest); pruned > 0 {
				b.recordFailure(core.Failure{Kind: core.FailureRegistryInconsistency, AgentID: dest})
				b.logger.Warn("pruned dangling connections",
					"source", sourceID, "destination", dest, "count", pruned)
			}
		}
		return false
	}

	_, dropped := a.Cache().Append(sourceID, keyword, payload)
	if dropped > 0 {
		b.recordFailure(core.Failure{Kind: core.FailureCacheOverflow, AgentID: dest})
		b.logger.Warn("cache overflow dropped unused entries",
			"agent_id", dest, "dropped", dropped)
	}

	if b.onDeliver != nil {
		b.onDeliver(sourceID, dest, keyword, payload)
	}
	if a.NoteArrival(keyword) {
		b.enqueue(dest)
	}
	return true
}

// Trigger explicitly wakes an agent regardless of keyword matching, e.g.
// from a timer. Reports whether the agent exists.
func (b *Bus) Trigger(id string) bool {
	a := b.Agent(id)
	if a == nil {
		return false
	}
	if a.Trigger() {
		b.enqueue(id)
	}
	return true
}

func (b *Bus) recordFailure(f core.Failure) {
	b.counters.incFailure(f.Kind)
	if b.onFailure != nil {
		b.onFailure(f)
	}
}

func (b *Bus) enqueue(id string) {
	b.qmu.Lock()
	b.queue = append(b.queue, id)
	b.qmu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// next blocks until an agent id is queued or ctx is done.
func (b *Bus) next(ctx context.Context) (string, bool) {
	for {
		b.qmu.Lock()
		if len(b.queue) > 0 {
			id := b.queue[0]
			b.queue = b.queue[1:]
			remaining := len(b.queue)
			b.qmu.Unlock()
			if remaining > 0 {
				// Re-arm so sibling workers keep draining.
				select {
				case b.wake <- struct{}{}:
				default:
				}
			}
			return id, true
		}
		b.qmu.Unlock()

		select {
		case <-ctx.Done():
			return "", false
		case <-b.wake:
		}
	}
}

// Start launches the worker pool. Publishing before Start is allowed;
// queued triggers are picked up once workers run.
func (b *Bus) Start(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.running {
		return fmt.Errorf("bus: already started")
	}

	gctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(gctx)
	for i := 0; i < b.workers; i++ {
		g.Go(func() error {
			return b.worker(gctx)
		})
	}

	b.cancel = cancel
	b.group = g
	b.running = true
	b.logger.Info("bus started", "workers", b.workers)
	return nil
}

// Stop cancels the worker pool and waits for in-flight activations to
// finish.
func (b *Bus) Stop() error {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if !b.running {
		return nil
	}
	b.cancel()
	err := b.group.Wait()
	b.running = false
	b.logger.Info("bus stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (b *Bus) worker(ctx context.Context) error {
	for {
		id, ok := b.next(ctx)
		if !ok {
			return ctx.Err()
		}
		b.runAgent(ctx, id)
	}
}

// runAgent performs one activation attempt for a queued agent. The claim
// through BeginActivation guarantees at most one activation per agent even
// with multiple workers.
func (b *Bus) runAgent(ctx context.Context, id string) {
	a := b.Agent(id)
	if a == nil {
		return
	}
	if !a.BeginActivation() {
		return
	}

	rep := a.Activate(ctx, b)

	if rep.Failure != nil {
		b.recordFailure(*rep.Failure)
	}
	if rep.Activated && rep.Failure == nil {
		b.logger.Debug("activation complete",
			"agent_id", id, "consumed", rep.Consumed, "published", rep.Published)
		if b.onActivation != nil {
			b.onActivation(a, rep)
		}
	}
	if rep.Requeue {
		b.enqueue(id)
	}
}

// Idle reports whether no agent is triggered or processing and the queue
// is empty. Useful for draining in tests and batch runs.
func (b *Bus) Idle() bool {
	b.qmu.Lock()
	queued := len(b.queue)
	b.qmu.Unlock()
	if queued > 0 {
		return false
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, a := range b.agents {
		if s := a.State(); s == agent.StateTriggered || s == agent.StateProcessing {
			return false
		}
	}
	return true
}
