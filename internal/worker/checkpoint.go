package worker

import (
	"context"
	"log/slog"
	"time"

	"treasury/internal/store"
	"treasury/internal/treasury"
)

// Checkpointer mirrors the engine's state into the snapshot store whenever
// something changed since the last tick. This is the persistence contract:
// a restart reloads the last saved snapshot and rebuilds identical indices.
type Checkpointer struct {
	engine   *treasury.Engine
	snaps    *store.SnapshotStore
	interval time.Duration
}

func NewCheckpointer(engine *treasury.Engine, snaps *store.SnapshotStore, interval time.Duration) *Checkpointer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Checkpointer{engine: engine, snaps: snaps, interval: interval}
}

func (c *Checkpointer) Start(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	slog.Info("treasury checkpointer is running", "interval", c.interval)

	for {
		select {
		case <-ctx.Done():
			// Final checkpoint on shutdown so no acknowledged mutation is
			// lost; uses a fresh context since ctx is already cancelled.
			c.checkpoint(context.Background())
			return ctx.Err()
		case <-ticker.C:
			c.checkpoint(ctx)
		}
	}
}

func (c *Checkpointer) Stop(ctx context.Context) error { return nil }

func (c *Checkpointer) checkpoint(ctx context.Context) {
	pairs, dirty, err := c.engine.ExportIfDirty()
	if err != nil {
		slog.Error("checkpoint: failed to export state", "error", err)
		return
	}
	if !dirty {
		return
	}
	if err := c.snaps.Save(ctx, pairs); err != nil {
		slog.Error("checkpoint: failed to save snapshot", "error", err)
		c.engine.ForceDirty()
		return
	}
	slog.Debug("checkpoint saved", "pairs", len(pairs))
}
