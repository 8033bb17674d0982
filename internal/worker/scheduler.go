package worker

import (
	"context"
	"log/slog"
	"time"

	"treasury/internal/treasury"
)

// Scheduler ticks the time-driven treasury engines: due payout cycles and
// the deadman sweep. Both are idempotent per tick (a cycle that is not due
// and an org that is not inactive are no-ops), so the interval only bounds
// latency, not correctness.
type Scheduler struct {
	engine   *treasury.Engine
	interval time.Duration
}

func NewScheduler(engine *treasury.Engine, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{engine: engine, interval: interval}
}

func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("treasury scheduler is running", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.engine.RunDuePayouts(ctx)
			if swept := s.engine.SweepInactive(ctx); swept > 0 {
				slog.Info("deadman sweep archived inactive organizations", "count", swept)
			}
		}
	}
}

func (s *Scheduler) Stop(ctx context.Context) error { return nil }
