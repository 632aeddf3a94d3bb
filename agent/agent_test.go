package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synapse-agents/synapse/core"
	"github.com/synapse-agents/synapse/reason"
	"github.com/synapse-agents/synapse/registry"
)

type fakeEnv struct {
	reg *registry.Registry

	mu        sync.Mutex
	published []core.Message
	direct    []core.Message
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{reg: registry.New()}
}

func (e *fakeEnv) Publish(_ context.Context, sourceID, keyword, payload string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.published = append(e.published, core.Message{Sender: sourceID, Keyword: keyword, Payload: payload})
	return 1
}

func (e *fakeEnv) PublishTo(_ context.Context, sourceID, destID, keyword, payload string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.direct = append(e.direct, core.Message{Sender: sourceID + "->" + destID, Keyword: keyword, Payload: payload})
	return true
}

func (e *fakeEnv) Registry() *registry.Registry { return e.reg }

func TestNoteArrivalTriggersFromIdle(t *testing.T) {
	a := New(reason.NewScripted(), func(o *Options) {
		o.ActivationKeywords = []string{"task"}
	})

	assert.False(t, a.NoteArrival("unrelated"), "non-matching keyword must not wake")
	assert.Equal(t, StateIdle, a.State())

	assert.True(t, a.NoteArrival("task"))
	assert.Equal(t, StateTriggered, a.State())

	// Further arrivals collapse into the pending trigger.
	assert.False(t, a.NoteArrival("task"))
	assert.Equal(t, StateTriggered, a.State())
}

func TestEmptyActivationSetMatchesAll(t *testing.T) {
	a := New(reason.NewScripted())
	assert.True(t, a.Matches("anything"))
	assert.True(t, a.NoteArrival("whatever"))
}

func TestBeginActivationIsExclusive(t *testing.T) {
	a := New(reason.NewScripted())
	a.Trigger()

	require.True(t, a.BeginActivation())
	assert.Equal(t, StateProcessing, a.State())
	assert.False(t, a.BeginActivation(), "second claim must fail while processing")
}

func TestArrivalDuringProcessingRequeues(t *testing.T) {
	a := New(reason.NewScripted())
	env := newFakeEnv()

	a.cache.Append("src", "task", "one")
	a.Trigger()
	require.True(t, a.BeginActivation())

	// New input lands while the activation is in flight.
	a.NoteArrival("task")

	rep := a.Activate(context.Background(), env)
	assert.True(t, rep.Activated)
	assert.True(t, rep.Requeue)
	assert.Equal(t, StateTriggered, a.State())
}

func TestActivateSuccessMarksUsedAndPublishes(t *testing.T) {
	env := newFakeEnv()
	script := reason.NewScripted().
		Respond(`<summary>done</summary><self_state>warmed up</self_state><note to="logger">direct</note>`)

	a := New(script, func(o *Options) {
		o.ID = "worker"
		o.SelfState = "cold"
	})
	require.NoError(t, env.reg.Register("worker"))

	a.cache.Append("src", "task", "payload")
	a.Trigger()
	require.True(t, a.BeginActivation())

	rep := a.Activate(context.Background(), env)
	require.Nil(t, rep.Failure)
	assert.True(t, rep.Activated)
	assert.Equal(t, 1, rep.Consumed)
	assert.Equal(t, 2, rep.Published)
	assert.False(t, rep.Requeue)
	assert.Equal(t, StateIdle, a.State())

	assert.Equal(t, "warmed up", a.SelfState())
	assert.Equal(t, 0, a.cache.UnusedLen(), "consumed entries must be marked used")

	require.Len(t, env.published, 1)
	assert.Equal(t, "summary", env.published[0].Keyword)
	require.Len(t, env.direct, 1)
	assert.Equal(t, "worker->logger", env.direct[0].Sender)
}

func TestActivateRetryKeepsEntriesUnused(t *testing.T) {
	env := newFakeEnv()
	script := reason.NewScripted().Fail(errors.New("upstream hiccup"))

	a := New(script, func(o *Options) {
		o.MaxRetries = 3
	})
	a.cache.Append("src", "task", "payload")
	a.Trigger()
	require.True(t, a.BeginActivation())

	rep := a.Activate(context.Background(), env)
	require.NotNil(t, rep.Failure)
	assert.Equal(t, core.FailureActivationTimeout, rep.Failure.Kind)
	assert.Equal(t, 1, rep.Failure.Retry)
	assert.False(t, rep.Poisoned)
	assert.True(t, rep.Requeue, "retryable failure must requeue")
	assert.Equal(t, StateTriggered, a.State())
	assert.Equal(t, 1, a.cache.UnusedLen(), "failed activation must keep entries unused")
}

func TestActivatePoisonSkipAtRetryBound(t *testing.T) {
	env := newFakeEnv()
	script := reason.NewScripted().
		Fail(errors.New("boom")).
		Fail(errors.New("boom"))

	a := New(script, func(o *Options) {
		o.MaxRetries = 2
	})
	a.cache.Append("src", "task", "poison")

	for i := 0; i < 2; i++ {
		a.Trigger()
		require.True(t, a.BeginActivation())
		rep := a.Activate(context.Background(), env)
		require.NotNil(t, rep.Failure)
		if i == 1 {
			assert.True(t, rep.Poisoned)
			assert.False(t, rep.Requeue)
		}
	}

	assert.Equal(t, 0, a.cache.UnusedLen(), "poison entries must be marked used")
	assert.Equal(t, StateIdle, a.State())

	// The next activation succeeds with a fresh counter.
	a.cache.Append("src", "task", "fresh")
	a.Trigger()
	require.True(t, a.BeginActivation())
	rep := a.Activate(context.Background(), env)
	assert.Nil(t, rep.Failure)
	assert.True(t, rep.Activated)
}

func TestActivateMalformedOutputClassified(t *testing.T) {
	env := newFakeEnv()
	script := reason.NewScripted().Respond("plain text with no tags")

	a := New(script)
	a.cache.Append("src", "task", "payload")
	a.Trigger()
	require.True(t, a.BeginActivation())

	rep := a.Activate(context.Background(), env)
	require.NotNil(t, rep.Failure)
	assert.Equal(t, core.FailureMalformedOutput, rep.Failure.Kind)
}

func TestActivateTimeoutClassified(t *testing.T) {
	env := newFakeEnv()
	blocking := reason.ReasonerFunc(func(ctx context.Context, _ reason.Request) (reason.Result, error) {
		<-ctx.Done()
		return reason.Result{}, ctx.Err()
	})

	a := New(blocking, func(o *Options) {
		o.Timeout = 10 * time.Millisecond
	})
	a.cache.Append("src", "task", "payload")
	a.Trigger()
	require.True(t, a.BeginActivation())

	rep := a.Activate(context.Background(), env)
	require.NotNil(t, rep.Failure)
	assert.Equal(t, core.FailureActivationTimeout, rep.Failure.Kind)
	assert.ErrorIs(t, rep.Failure.Err, context.DeadlineExceeded)
}

func TestActivateEmptyCacheIsNoOp(t *testing.T) {
	a := New(reason.NewScripted())
	a.Trigger()
	require.True(t, a.BeginActivation())

	rep := a.Activate(context.Background(), newFakeEnv())
	assert.False(t, rep.Activated)
	assert.Equal(t, StateIdle, a.State())
}

func TestSinkConsumesWithoutReasoner(t *testing.T) {
	var got []core.Message
	a := New(nil, func(o *Options) {
		o.CanConsume = true
		o.Sink = func(_ context.Context, msgs []core.Message) error {
			got = append(got, msgs...)
			return nil
		}
	})

	a.cache.Append("src", "result", "hello")
	a.Trigger()
	require.True(t, a.BeginActivation())

	rep := a.Activate(context.Background(), newFakeEnv())
	assert.True(t, rep.Activated)
	assert.Zero(t, rep.Published)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Payload)
	assert.Equal(t, 0, a.cache.UnusedLen())
}

func TestSignalsRewireRegistry(t *testing.T) {
	env := newFakeEnv()
	require.NoError(t, env.reg.Register("seeker"))
	require.NoError(t, env.reg.Register("helper"))
	require.NoError(t, env.reg.MarkDiscoverable("helper", "advice", true))

	script := reason.NewScripted().
		Respond(`<signal>[{"type":"SEEK","keyword":"advice"},{"type":"ACCEPT_INPUT","id":"helper","keyword":"followup"}]</signal>`)

	a := New(script, func(o *Options) {
		o.ID = "seeker"
	})
	a.cache.Append("src", "task", "go find help")
	a.Trigger()
	require.True(t, a.BeginActivation())

	rep := a.Activate(context.Background(), env)
	require.Nil(t, rep.Failure)

	assert.Equal(t, []string{"helper"}, env.reg.Resolve("seeker", "advice"))
	assert.Equal(t, []string{"seeker"}, env.reg.Resolve("helper", "followup"))
}

func TestRemovalSuppressesOutputs(t *testing.T) {
	env := newFakeEnv()
	script := reason.NewScripted().Respond("<out>late result</out>")

	a := New(script)
	a.cache.Append("src", "task", "payload")
	a.Trigger()
	require.True(t, a.BeginActivation())

	// Removal lands while the activation is in flight.
	a.Remove()

	rep := a.Activate(context.Background(), env)
	assert.True(t, rep.Activated)
	assert.Zero(t, rep.Published, "outputs after removal must be suppressed")
	assert.Empty(t, env.published)
	assert.False(t, rep.Requeue)
	assert.Equal(t, StateRemoved, a.State())
}

func TestFactoryConstructsRegisteredKinds(t *testing.T) {
	f := NewFactory()
	f.Register("scripted", func(cfg Config) (*Agent, error) {
		return New(reason.NewScripted(), ApplyConfig(cfg)), nil
	})

	a, err := f.New("scripted", Config{ID: "a1", Instruction: "echo things", ActivationKeywords: []string{"in"}})
	require.NoError(t, err)
	assert.Equal(t, "a1", a.ID())
	assert.Equal(t, "scripted", a.Kind())
	assert.Equal(t, []string{"in"}, a.ActivationKeywords())

	_, err = f.New("missing", Config{})
	assert.Error(t, err)
}
