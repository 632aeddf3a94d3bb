package agent

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/synapse-agents/synapse/cache"
	"github.com/synapse-agents/synapse/core"
	"github.com/synapse-agents/synapse/logging"
	"github.com/synapse-agents/synapse/reason"
	"github.com/synapse-agents/synapse/registry"
)

// Env is the slice of the bus an activation may touch: publishing parsed
// directives and mutating the routing graph through registry operations.
type Env interface {
	core.Publisher
	// PublishTo delivers directly to one destination, bypassing connection
	// resolution. Used for directives carrying a destination hint.
	PublishTo(ctx context.Context, sourceID, destID, keyword, payload string) bool
	// Registry exposes the shared routing graph for seek/explore signals.
	Registry() *registry.Registry
}

// Sink receives the messages consumed by an activation instead of a
// reasoning call. Consumer-role agents hand payloads to whatever external
// sink they wrap; the core does not know what the sink is.
type Sink func(ctx context.Context, msgs []core.Message) error

// Report summarizes one activation for the scheduler.
type Report struct {
	// Activated is false when the drain found nothing to consume.
	Activated bool
	// Consumed is the number of entries marked used.
	Consumed int
	// Published is the number of deliveries made from parsed directives.
	Published int
	// Failure is set on the retry and poison paths.
	Failure *core.Failure
	// Poisoned means the retry bound was exhausted and the activation's
	// entries were marked used anyway to avoid permanent lockup.
	Poisoned bool
	// Requeue asks the scheduler to put the agent back on the ready queue.
	Requeue bool
}

// Options configures an Agent.
type Options struct {
	ID   string
	Kind string
	// Instruction is the opaque behavior text handed to the reasoner.
	Instruction Instruction
	// SelfState seeds the agent's mutable free-text state.
	SelfState string
	// ActivationKeywords lists the inbound keywords that trigger
	// processing. Empty means any keyword triggers.
	ActivationKeywords []string
	// CacheCapacity bounds the inbound cache (cache.DefaultCapacity if 0).
	CacheCapacity int
	// Dedup enables the cache reduce pass.
	Dedup bool
	// MaxRetries bounds consecutive activation failures before entries
	// are marked used anyway (poison-skip).
	MaxRetries int
	// Timeout caps each reasoning call. Zero means no deadline.
	Timeout time.Duration
	// Sink, when set, replaces the reasoning call for consumer agents.
	Sink Sink
	// CanProduce and CanConsume are capability flags for external roles.
	CanProduce bool
	CanConsume bool
	// FrequencyWindow sets the activation-rate averaging window.
	FrequencyWindow time.Duration
	Logger          logging.Logger
}

// Agent is an addressable processing unit: a cache, an activation policy
// and a reasoning collaborator. All methods are safe for concurrent use.
type Agent struct {
	id          string
	kind        string
	instruction Instruction
	activation  map[string]struct{}
	cache       *cache.Cache
	reasoner    reason.Reasoner
	sink        Sink
	maxRetries  int
	timeout     time.Duration
	canProduce  bool
	canConsume  bool
	freq        *Frequency
	logger      logging.Logger

	mu        sync.Mutex
	state     State
	selfState string
	reeval    bool
	retries   int
}

// New constructs an agent around a reasoning collaborator. The reasoner
// may be nil only when a Sink is configured.
func New(reasoner reason.Reasoner, optFns ...func(o *Options)) *Agent {
	opts := Options{
		Kind:       "model",
		MaxRetries: 3,
		Timeout:    30 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.ID == "" {
		opts.ID = core.NewID()
	}

	activation := make(map[string]struct{}, len(opts.ActivationKeywords))
	for _, kw := range opts.ActivationKeywords {
		activation[kw] = struct{}{}
	}

	return &Agent{
		id:          opts.ID,
		kind:        opts.Kind,
		instruction: opts.Instruction,
		activation:  activation,
		cache: cache.New(func(o *cache.Options) {
			o.Capacity = opts.CacheCapacity
			o.Dedup = opts.Dedup
		}),
		reasoner:   reasoner,
		sink:       opts.Sink,
		maxRetries: opts.MaxRetries,
		timeout:    opts.Timeout,
		canProduce: opts.CanProduce,
		canConsume: opts.CanConsume,
		freq:       NewFrequency(opts.FrequencyWindow),
		logger:     logging.With(logging.OrNoOp(opts.Logger), "agent_id", opts.ID),
		selfState:  opts.SelfState,
	}
}

// ID returns the agent's unique identifier.
func (a *Agent) ID() string { return a.id }

// Kind returns the factory kind the agent was created from.
func (a *Agent) Kind() string { return a.kind }

// Cache exposes the agent's inbound message cache.
func (a *Agent) Cache() *cache.Cache { return a.cache }

// Frequency exposes the activation rate tracker.
func (a *Agent) Frequency() *Frequency { return a.freq }

// CanProduce reports the producer capability flag.
func (a *Agent) CanProduce() bool { return a.canProduce }

// CanConsume reports the consumer capability flag.
func (a *Agent) CanConsume() bool { return a.canConsume }

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// SelfState returns the agent's mutable free-text state.
func (a *Agent) SelfState() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.selfState
}

// SetSelfState replaces the agent's self state (used on restore).
func (a *Agent) SetSelfState(s string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.selfState = s
}

// InstructionText returns the static instruction text, or "" for dynamic
// providers. Used when snapshotting.
func (a *Agent) InstructionText() string { return a.instruction.text }

// ActivationKeywords returns the sorted activation keyword set.
func (a *Agent) ActivationKeywords() []string {
	out := make([]string, 0, len(a.activation))
	for kw := range a.activation {
		out = append(out, kw)
	}
	slices.Sort(out)
	return out
}

// Matches reports whether an inbound keyword can trigger processing.
// An empty activation set matches everything.
func (a *Agent) Matches(keyword string) bool {
	if len(a.activation) == 0 {
		return true
	}
	_, ok := a.activation[keyword]
	return ok
}

// NoteArrival records that a matching message was appended and returns
// true when the agent transitioned Idle to Triggered and needs scheduling.
// Arrivals while Triggered collapse; arrivals while Processing mark the
// agent for re-evaluation after completion.
func (a *Agent) NoteArrival(keyword string) bool {
	if !a.Matches(keyword) {
		return false
	}
	return a.trigger()
}

// Trigger is the explicit external trigger signal (e.g. a timer). It
// bypasses keyword matching.
func (a *Agent) Trigger() bool { return a.trigger() }

func (a *Agent) trigger() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case StateIdle:
		a.state = StateTriggered
		return true
	case StateProcessing:
		a.reeval = true
	}
	return false
}

// BeginActivation claims the Triggered to Processing transition. It fails
// when the agent is not Triggered, guaranteeing at most one activation per
// agent at any time.
func (a *Agent) BeginActivation() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateTriggered {
		return false
	}
	a.state = StateProcessing
	return true
}

// Remove transitions to the terminal Removed state. An in-flight
// activation finishes but its outputs are suppressed.
func (a *Agent) Remove() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = StateRemoved
}

// finish leaves Processing: back to Triggered when the activation failed
// retryably or new input arrived meanwhile, otherwise to Idle. Returns
// whether the scheduler should requeue the agent.
func (a *Agent) finish(retry bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateRemoved {
		return false
	}
	if retry || a.reeval {
		a.state = StateTriggered
		a.reeval = false
		return true
	}
	a.state = StateIdle
	return false
}

// Activate runs one processing cycle. The caller must have claimed the
// agent via BeginActivation. The cycle drains unused entries, invokes the
// sink or the reasoning collaborator, marks entries used on success, and
// applies the parsed self-state, signals and directives through env.
func (a *Agent) Activate(ctx context.Context, env Env) Report {
	msgs := a.cache.DrainUnused()
	if len(msgs) == 0 {
		return Report{Requeue: a.finish(false)}
	}

	seqs := make([]uint64, len(msgs))
	for i, m := range msgs {
		seqs[i] = m.Seq
	}

	if a.sink != nil {
		return a.runSink(ctx, msgs, seqs)
	}
	return a.runReasoner(ctx, env, msgs, seqs)
}

func (a *Agent) runSink(ctx context.Context, msgs []core.Message, seqs []uint64) Report {
	if a.State() == StateRemoved {
		a.logger.Debug("sink output suppressed after removal")
		return Report{}
	}
	if err := a.sink(ctx, msgs); err != nil {
		return a.fail(core.FailureMalformedOutput, err, seqs)
	}
	a.cache.MarkUsed(seqs...)
	a.resetRetries()
	a.freq.Record()
	return Report{Activated: true, Consumed: len(seqs), Requeue: a.finish(false)}
}

func (a *Agent) runReasoner(ctx context.Context, env Env, msgs []core.Message, seqs []uint64) Report {
	instruction, err := a.instruction.Resolve()
	if err != nil {
		return a.fail(core.FailureMalformedOutput, err, seqs)
	}

	req := reason.Request{
		Instruction:    instruction,
		SelfState:      a.SelfState(),
		OutputKeywords: env.Registry().OutputKeywords(a.id),
		Inputs:         msgs,
	}

	cctx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	res, err := a.reasoner.Invoke(cctx, req)
	if err != nil {
		kind := core.FailureActivationTimeout
		if errors.Is(err, reason.ErrMalformedOutput) {
			kind = core.FailureMalformedOutput
		}
		return a.fail(kind, err, seqs)
	}

	a.cache.MarkUsed(seqs...)
	a.resetRetries()
	a.freq.Record()

	if a.State() == StateRemoved {
		a.logger.Debug("activation output suppressed after removal")
		return Report{Activated: true, Consumed: len(seqs)}
	}

	if res.SelfState != nil {
		a.SetSelfState(*res.SelfState)
	}
	a.applySignals(env, res.Signals)

	published := 0
	for _, d := range res.Directives {
		if d.DestinationHint != "" {
			if env.PublishTo(ctx, a.id, d.DestinationHint, d.Keyword, d.Payload) {
				published++
			}
			continue
		}
		published += env.Publish(ctx, a.id, d.Keyword, d.Payload)
	}

	return Report{
		Activated: true,
		Consumed:  len(seqs),
		Published: published,
		Requeue:   a.finish(false),
	}
}

// fail handles the retry path: below the bound the entries stay unused and
// the agent re-enters Triggered; at the bound they are marked used anyway
// and the poison skip is surfaced as a failure event.
func (a *Agent) fail(kind core.FailureKind, err error, seqs []uint64) Report {
	a.mu.Lock()
	a.retries++
	retries := a.retries
	a.mu.Unlock()

	failure := &core.Failure{Kind: kind, AgentID: a.id, Retry: retries, Err: err}

	if retries < a.maxRetries {
		a.logger.Warn("activation failed, will retry",
			"kind", string(kind), "retry", retries, "error", err)
		return Report{Failure: failure, Requeue: a.finish(true)}
	}

	a.cache.MarkUsed(seqs...)
	a.resetRetries()
	a.logger.Error("activation retries exhausted, skipping poison input",
		"kind", string(kind), "retry", retries, "dropped", len(seqs), "error", err)
	return Report{
		Consumed: len(seqs),
		Failure:  failure,
		Poisoned: true,
		Requeue:  a.finish(false),
	}
}

func (a *Agent) resetRetries() {
	a.mu.Lock()
	a.retries = 0
	a.mu.Unlock()
}

// applySignals executes the registry control operations carried by a
// reasoning result. Seek picks the first discoverable candidate; the
// registry itself does not arbitrate.
func (a *Agent) applySignals(env Env, signals []core.Signal) {
	reg := env.Registry()
	for _, s := range signals {
		switch s.Type {
		case core.SignalExplore:
			for kw := range a.activation {
				if err := reg.MarkDiscoverable(a.id, kw, true); err != nil {
					a.logger.Warn("explore failed", "keyword", kw, "error", err)
				}
			}
		case core.SignalStopExplore:
			for kw := range a.activation {
				if err := reg.MarkDiscoverable(a.id, kw, false); err != nil {
					a.logger.Warn("stop explore failed", "keyword", kw, "error", err)
				}
			}
		case core.SignalSeek:
			candidates := reg.Seek(s.Keyword)
			if len(candidates) == 0 {
				a.logger.Debug("seek found no candidates", "keyword", s.Keyword)
				continue
			}
			if err := reg.AddConnection(a.id, candidates[0], s.Keyword); err != nil {
				a.logger.Warn("seek link failed", "keyword", s.Keyword, "error", err)
			}
		case core.SignalAcceptInput:
			if err := reg.AddConnection(s.AgentID, a.id, s.Keyword); err != nil {
				a.logger.Warn("accept input failed", "source", s.AgentID, "error", err)
			}
		case core.SignalRejectInput:
			reg.RemoveInputConnections(a.id, s.Keyword)
		}
	}
}
