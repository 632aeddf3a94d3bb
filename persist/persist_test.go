package persist

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synapse-agents/synapse/core"
)

func sampleSnapshot() Snapshot {
	return Snapshot{
		TakenAt: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC),
		Agents: []AgentSnapshot{
			{
				ID:                 "planner",
				Kind:               "model",
				Instruction:        "plan the work",
				SelfState:          "warmed up",
				ActivationKeywords: []string{"task"},
				Outputs:            map[string][]string{"step": {"worker"}},
				Discoverable:       []string{"task"},
				Entries: []core.Message{
					{Seq: 3, Sender: "user", Keyword: "task", Payload: "do it", Used: false},
					{Seq: 2, Sender: "user", Keyword: "task", Payload: "done already", Used: true},
				},
			},
			{ID: "worker", Kind: "model", Instruction: "do the steps"},
		},
	}
}

func testAdapter(t *testing.T, a Adapter) {
	t.Helper()
	ctx := context.Background()
	snap := sampleSnapshot()

	require.NoError(t, a.Save(ctx, "first", snap))
	require.NoError(t, a.Save(ctx, "second", snap))

	got, err := a.Load(ctx, "first")
	require.NoError(t, err)
	assert.Equal(t, snap.Agents, got.Agents)
	assert.True(t, snap.TakenAt.Equal(got.TakenAt))

	names, err := a.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, names)

	// Save over an existing name replaces it.
	snap.Agents = snap.Agents[:1]
	require.NoError(t, a.Save(ctx, "second", snap))
	got, err = a.Load(ctx, "second")
	require.NoError(t, err)
	assert.Len(t, got.Agents, 1)

	require.NoError(t, a.Delete(ctx, "first"))
	_, err = a.Load(ctx, "first")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileAdapter(t *testing.T) {
	a, err := NewFileAdapter(filepath.Join(t.TempDir(), "checkpoints"))
	require.NoError(t, err)
	testAdapter(t, a)
}

func TestSQLiteAdapter(t *testing.T) {
	a, err := NewSQLiteAdapter(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer a.Close()
	testAdapter(t, a)
}

func TestNopAdapter(t *testing.T) {
	ctx := context.Background()
	a := NopAdapter{}
	require.NoError(t, a.Save(ctx, "x", Snapshot{}))
	_, err := a.Load(ctx, "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCheckpointerRetentionAndLatest(t *testing.T) {
	ctx := context.Background()
	adapter, err := NewFileAdapter(t.TempDir())
	require.NoError(t, err)

	taken := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	c := NewCheckpointer(adapter, func(context.Context) Snapshot {
		return Snapshot{TakenAt: taken, Agents: []AgentSnapshot{{ID: "a"}}}
	}, func(o *CheckpointOptions) {
		o.Keep = 2
	})

	var last string
	for i := 0; i < 4; i++ {
		last, err = c.Save(ctx)
		require.NoError(t, err)
		taken = taken.Add(time.Second)
	}

	names, err := c.List(ctx)
	require.NoError(t, err)
	assert.Len(t, names, 2, "retention keeps only the newest")
	assert.Equal(t, last, names[len(names)-1])

	snap, name, err := c.LoadLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, last, name)
	assert.Len(t, snap.Agents, 1)
}

func TestCheckpointerLoadLatestEmpty(t *testing.T) {
	adapter, err := NewFileAdapter(t.TempDir())
	require.NoError(t, err)
	c := NewCheckpointer(adapter, func(context.Context) Snapshot { return Snapshot{} })

	_, _, err = c.LoadLatest(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}
