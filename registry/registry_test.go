package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPair(t *testing.T) *Registry {
	t.Helper()
	r := New()
	require.NoError(t, r.Register("a"))
	require.NoError(t, r.Register("b"))
	return r
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("a"))
	err := r.Register("a")
	assert.ErrorIs(t, err, ErrDuplicateAgent)
}

func TestAddConnectionIdempotent(t *testing.T) {
	r := newPair(t)
	require.NoError(t, r.AddConnection("a", "b", "ping"))
	require.NoError(t, r.AddConnection("a", "b", "ping"))

	assert.Equal(t, []string{"b"}, r.Resolve("a", "ping"))
}

func TestAddConnectionRecordsInputSide(t *testing.T) {
	r := newPair(t)
	require.NoError(t, r.AddConnection("a", "b", "ping"))

	d, ok := r.Describe("b")
	require.True(t, ok)
	assert.Equal(t, "ping", d.Inputs["a"])
}

func TestAddConnectionUnknownSource(t *testing.T) {
	r := New()
	assert.ErrorIs(t, r.AddConnection("ghost", "b", "ping"), ErrAgentNotFound)
}

func TestRemoveConnection(t *testing.T) {
	r := newPair(t)
	require.NoError(t, r.AddConnection("a", "b", "ping"))

	assert.True(t, r.RemoveConnection("a", "b", "ping"))
	assert.False(t, r.RemoveConnection("a", "b", "ping"), "second removal reports not found")
	assert.Empty(t, r.Resolve("a", "ping"))
}

func TestResolveReturnsSnapshot(t *testing.T) {
	r := newPair(t)
	require.NoError(t, r.AddConnection("a", "b", "ping"))

	snap := r.Resolve("a", "ping")
	require.True(t, r.RemoveConnection("a", "b", "ping"))

	// The earlier snapshot is unaffected by the removal.
	assert.Equal(t, []string{"b"}, snap)
	assert.Empty(t, r.Resolve("a", "ping"))
}

func TestDeregisterLeavesDanglingConnections(t *testing.T) {
	r := newPair(t)
	require.NoError(t, r.AddConnection("a", "b", "ping"))

	require.True(t, r.Deregister("b"))

	// The connection remains until pruned lazily at delivery time.
	assert.Equal(t, []string{"b"}, r.Resolve("a", "ping"))
	assert.Equal(t, 1, r.Prune("a", "b"))
	assert.Empty(t, r.Resolve("a", "ping"))
}

func TestSeekReturnsDiscoverableInOrder(t *testing.T) {
	r := New()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, r.Register(id))
	}
	require.NoError(t, r.MarkDiscoverable("c", "status", true))
	require.NoError(t, r.MarkDiscoverable("a", "status", true))
	require.NoError(t, r.MarkDiscoverable("b", "other", true))

	assert.Equal(t, []string{"a", "c"}, r.Seek("status"))

	require.NoError(t, r.MarkDiscoverable("a", "status", false))
	assert.Equal(t, []string{"c"}, r.Seek("status"))
}

func TestRemoveInputConnections(t *testing.T) {
	r := New()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, r.Register(id))
	}
	require.NoError(t, r.AddConnection("a", "c", "noise"))
	require.NoError(t, r.AddConnection("b", "c", "noise"))

	sources := r.RemoveInputConnections("c", "noise")
	assert.ElementsMatch(t, []string{"a", "b"}, sources)
	assert.Empty(t, r.Resolve("a", "noise"))
	assert.Empty(t, r.Resolve("b", "noise"))
}

func TestDescribe(t *testing.T) {
	r := newPair(t)
	require.NoError(t, r.AddConnection("a", "b", "ping"))
	require.NoError(t, r.MarkDiscoverable("a", "cmd", true))

	d, ok := r.Describe("a")
	require.True(t, ok)
	assert.Equal(t, []string{"b"}, d.Outputs["ping"])
	assert.Equal(t, []string{"cmd"}, d.Discoverable)

	_, ok = r.Describe("ghost")
	assert.False(t, ok)
}

func TestConcurrentMutation(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("hub"))
	for _, id := range []string{"w1", "w2", "w3", "w4"} {
		require.NoError(t, r.Register(id))
	}

	var wg sync.WaitGroup
	for _, id := range []string{"w1", "w2", "w3", "w4"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = r.AddConnection("hub", id, "fan")
				r.Resolve("hub", "fan")
				r.RemoveConnection("hub", id, "fan")
				_ = r.MarkDiscoverable(id, "fan", i%2 == 0)
				r.Seek("fan")
			}
		}(id)
	}
	wg.Wait()
}
