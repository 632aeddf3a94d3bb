package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAssignsMonotonicSequence(t *testing.T) {
	c := New()

	s1, _ := c.Append("a", "ping", "m1")
	s2, _ := c.Append("a", "ping", "m2")
	s3, _ := c.Append("b", "pong", "m3")

	assert.Less(t, s1, s2)
	assert.Less(t, s2, s3)

	unused := c.DrainUnused()
	require.Len(t, unused, 3)
	assert.Equal(t, "m1", unused[0].Payload)
	assert.Equal(t, "m2", unused[1].Payload)
}

func TestDrainUnusedDoesNotMark(t *testing.T) {
	c := New()
	c.Append("a", "ping", "hello")

	first := c.DrainUnused()
	second := c.DrainUnused()
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].Seq, second[0].Seq)
}

func TestDrainUnusedKeywordFilter(t *testing.T) {
	c := New()
	c.Append("a", "ping", "p")
	c.Append("a", "status", "s")

	got := c.DrainUnused("status")
	require.Len(t, got, 1)
	assert.Equal(t, "s", got[0].Payload)
}

func TestMarkUsedIdempotent(t *testing.T) {
	c := New()
	seq, _ := c.Append("a", "ping", "hello")

	c.MarkUsed(seq)
	c.MarkUsed(seq)      // already used
	c.MarkUsed(9999)     // unknown
	c.MarkUsed()         // empty
	assert.Empty(t, c.DrainUnused())
	assert.Equal(t, 1, c.Len()) // entry retained, just flagged
}

func TestReduceCollapsesConsecutiveUnused(t *testing.T) {
	c := New(func(o *Options) { o.Dedup = true })
	c.Append("mon", "status", "cpu 10%")
	c.Append("mon", "status", "cpu 55%")
	c.Append("mon", "status", "cpu 80%")
	c.Append("user", "chat", "hi")

	c.Reduce()

	unused := c.DrainUnused()
	require.Len(t, unused, 2)
	assert.Equal(t, "cpu 80%", unused[0].Payload)
	assert.Equal(t, "hi", unused[1].Payload)
}

func TestReduceIdempotent(t *testing.T) {
	c := New(func(o *Options) { o.Dedup = true })
	c.Append("mon", "status", "v1")
	c.Append("mon", "status", "v2")
	c.Append("mon", "other", "x")
	c.Append("mon", "status", "v3")

	c.Reduce()
	once := c.Snapshot()
	c.Reduce()
	twice := c.Snapshot()

	assert.Equal(t, once, twice)
}

func TestReduceNeverMergesUsed(t *testing.T) {
	c := New(func(o *Options) { o.Dedup = true })
	s1, _ := c.Append("mon", "status", "old")
	c.Append("mon", "status", "new")
	c.MarkUsed(s1)

	c.Reduce()

	all := c.Snapshot()
	require.Len(t, all, 2)
	assert.True(t, all[0].Used)
	assert.Equal(t, "old", all[0].Payload)
	assert.Equal(t, "new", all[1].Payload)
}

func TestReduceDisabledByDefault(t *testing.T) {
	c := New()
	c.Append("mon", "status", "v1")
	c.Append("mon", "status", "v2")

	c.Reduce()
	assert.Len(t, c.DrainUnused(), 2)
}

func TestEvictionPrefersUsedEntries(t *testing.T) {
	c := New(func(o *Options) { o.Capacity = 3 })
	s1, _ := c.Append("a", "k", "m1")
	c.Append("a", "k", "m2")
	c.Append("a", "k", "m3")
	c.MarkUsed(s1)

	_, droppedUnused := c.Append("a", "k", "m4")
	assert.Zero(t, droppedUnused)
	assert.Equal(t, 3, c.Len())

	// The used m1 is gone; all remaining entries are unused.
	unused := c.DrainUnused()
	require.Len(t, unused, 3)
	assert.Equal(t, "m2", unused[0].Payload)
}

func TestEvictionDropsUnusedWithWarning(t *testing.T) {
	c := New(func(o *Options) { o.Capacity = 3 })
	c.Append("a", "k", "m1")
	c.Append("a", "k", "m2")
	c.Append("a", "k", "m3")

	_, droppedUnused := c.Append("a", "k", "m4")
	assert.Equal(t, 1, droppedUnused)

	unused := c.DrainUnused()
	require.Len(t, unused, 3)
	assert.Equal(t, "m2", unused[0].Payload)
	assert.Equal(t, "m4", unused[2].Payload)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	c := New(func(o *Options) { o.Capacity = 10 })
	s1, _ := c.Append("a", "k", "m1")
	c.Append("b", "k", "m2")
	c.MarkUsed(s1)

	snap := c.Snapshot()

	restored := New(func(o *Options) { o.Capacity = 10 })
	restored.Restore(snap)
	assert.Equal(t, snap, restored.Snapshot())

	// Sequence numbering continues past the restored maximum.
	seq, _ := restored.Append("c", "k", "m3")
	assert.Greater(t, seq, snap[len(snap)-1].Seq)
}

func TestConcurrentAppendAndDrain(t *testing.T) {
	c := New(func(o *Options) { o.Capacity = 4096 })

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c.Append("src", "k", "payload")
				c.DrainUnused()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 800, c.Len())
}
