package persist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/synapse-agents/synapse/logging"
)

// nameFormat orders checkpoint names chronologically when sorted
// lexicographically.
const nameFormat = "20060102T150405.000"

// CheckpointOptions configures a Checkpointer.
type CheckpointOptions struct {
	// Prefix namespaces this checkpointer's names in the adapter.
	Prefix string
	// Keep retains only the most recent N checkpoints. 0 keeps all.
	Keep   int
	Logger logging.Logger
}

// Checkpointer names, retains and periodically takes snapshots through an
// adapter. The snapshot function is supplied by the system owning the
// state.
type Checkpointer struct {
	adapter  Adapter
	snapshot func(ctx context.Context) Snapshot
	prefix   string
	keep     int
	logger   logging.Logger
	now      func() time.Time
}

// NewCheckpointer wires an adapter to a snapshot source.
func NewCheckpointer(adapter Adapter, snapshot func(ctx context.Context) Snapshot, optFns ...func(o *CheckpointOptions)) *Checkpointer {
	opts := CheckpointOptions{Prefix: "ckpt"}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Checkpointer{
		adapter:  adapter,
		snapshot: snapshot,
		prefix:   opts.Prefix,
		keep:     opts.Keep,
		logger:   logging.OrNoOp(opts.Logger),
		now:      time.Now,
	}
}

// Save takes a snapshot now, stores it under a timestamped name and prunes
// beyond the retention bound. Returns the stored name.
func (c *Checkpointer) Save(ctx context.Context) (string, error) {
	snap := c.snapshot(ctx)
	if snap.TakenAt.IsZero() {
		snap.TakenAt = c.now()
	}
	name := fmt.Sprintf("%s-%s", c.prefix, snap.TakenAt.UTC().Format(nameFormat))
	if err := c.adapter.Save(ctx, name, snap); err != nil {
		return "", err
	}
	c.logger.Info("checkpoint saved", "name", name, "agents", len(snap.Agents))

	if err := c.pruneOld(ctx); err != nil {
		c.logger.Warn("checkpoint prune failed", "error", err)
	}
	return name, nil
}

func (c *Checkpointer) pruneOld(ctx context.Context) error {
	if c.keep <= 0 {
		return nil
	}
	names, err := c.list(ctx)
	if err != nil {
		return err
	}
	for len(names) > c.keep {
		if err := c.adapter.Delete(ctx, names[0]); err != nil {
			return err
		}
		names = names[1:]
	}
	return nil
}

func (c *Checkpointer) list(ctx context.Context) ([]string, error) {
	all, err := c.adapter.List(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, n := range all {
		if strings.HasPrefix(n, c.prefix+"-") {
			names = append(names, n)
		}
	}
	return names, nil
}

// List returns this checkpointer's stored names, oldest first.
func (c *Checkpointer) List(ctx context.Context) ([]string, error) {
	return c.list(ctx)
}

// LoadLatest loads the most recent checkpoint. Returns ErrNotFound when
// none exist.
func (c *Checkpointer) LoadLatest(ctx context.Context) (Snapshot, string, error) {
	names, err := c.list(ctx)
	if err != nil {
		return Snapshot{}, "", err
	}
	if len(names) == 0 {
		return Snapshot{}, "", ErrNotFound
	}
	latest := names[len(names)-1]
	snap, err := c.adapter.Load(ctx, latest)
	return snap, latest, err
}

// Run auto-saves every interval until ctx is done. A failed save is logged
// and retried on the next tick.
func (c *Checkpointer) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := c.Save(ctx); err != nil {
				c.logger.Error("auto checkpoint failed", "error", err)
			}
		}
	}
}
