package treasury

import (
	"context"
	"log/slog"
	"time"

	"treasury/internal/model"
)

// nextDue computes the due date for the next payout cycle relative to now.
// Delayed cycles never catch up: the schedule always restarts from the
// moment the current cycle ran.
func nextDue(now time.Time, cfg model.ScheduleConfig) time.Time {
	if !cfg.Enabled {
		return time.Time{}
	}
	switch cfg.Frequency {
	case model.FreqWeekly:
		return now.AddDate(0, 0, 7)
	case model.FreqMonthly:
		return now.AddDate(0, 1, 0)
	case model.FreqEveryNDays:
		days := cfg.EveryDays
		if days <= 0 {
			days = 1
		}
		return now.AddDate(0, 0, days)
	default:
		return now.AddDate(0, 0, 7)
	}
}

// RunPayoutCycle executes one scheduled payout pass for an org. It is a
// no-op (Ran=false) until the due date arrives or when scheduling is
// disabled. Tier membership comes from the external reputation collaborator;
// the engine lock is released around that query, and membership is applied
// against whatever state is current once it returns.
//
// Per-member and per-rail failures are skipped, not fatal: a member failing
// compliance or a rail failing its spend or liquidity check simply earns
// nothing this cycle. Each rail's successful credits aggregate into a single
// payout event for the whole cycle.
func (e *Engine) RunPayoutCycle(ctx context.Context, id string) (*model.PayoutReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	org, err := e.activeOrgLocked(id)
	if err != nil {
		return nil, err
	}
	if !org.Config.Scheduled.Enabled {
		return &model.PayoutReport{Org: id, NextDue: org.NextPayoutDue}, nil
	}
	now := e.now()
	if now.Before(org.NextPayoutDue) {
		return &model.PayoutReport{Org: id, NextDue: org.NextPayoutDue}, nil
	}
	if e.tiers == nil {
		return nil, errExternal("tier membership source is not configured")
	}

	// Claim the cycle before releasing the lock: a concurrent trigger for
	// the same org sees the advanced due date and is a no-op, so members
	// are never credited twice for one due date. The claim is restored if
	// the membership query fails, so a failed cycle retries next tick.
	prevDue := org.NextPayoutDue
	org.NextPayoutDue = nextDue(now, org.Config.Scheduled)
	e.markDirty()

	e.mu.Unlock()
	members, err := e.tiers.UsersByTier(ctx, id)
	e.mu.Lock()

	if err != nil {
		org.NextPayoutDue = prevDue
		e.markDirty()
		return nil, errExternal("tier membership query failed: %v", err)
	}
	// Revalidate: the org may have been archived while the lock was
	// released.
	org, err = e.activeOrgLocked(id)
	if err != nil {
		return nil, err
	}

	totals := make(map[model.Rail]uint64)
	paid := 0
	for _, m := range members {
		ent := org.Config.Entitlements[m.Tier]
		if len(ent) == 0 {
			continue
		}
		if !e.isCompliantLocked(org, m.User) {
			continue
		}
		credited := false
		for _, rail := range model.Rails() {
			amount := ent[rail]
			if amount == 0 || !org.Config.RailEnabled(rail) {
				continue
			}
			if err := e.guardSpendLocked(org, rail, amount); err != nil {
				continue
			}
			if err := e.creditUserLocked(org, m.User, rail, amount, true); err != nil {
				continue
			}
			e.recordSpendLocked(org, rail, amount)
			totals[rail] += amount
			credited = true
		}
		if credited {
			paid++
		}
	}

	for _, rail := range model.Rails() {
		if totals[rail] == 0 {
			continue
		}
		ev := model.PayoutEvent{Org: id, Rail: rail, Total: totals[rail], Members: paid, At: now}
		e.state.PayoutLog.Append(ev)
		e.publish(TopicPayouts, ev)
	}

	e.markDirty()

	slog.Info("payout cycle completed", "org", id, "members", paid, "next_due", org.NextPayoutDue)
	return &model.PayoutReport{Org: id, Ran: true, Members: paid, Credited: totals, NextDue: org.NextPayoutDue}, nil
}

// RunDuePayouts runs payout cycles for every org whose due date has passed.
// Called by the scheduler worker; per-org failures are logged and skipped.
func (e *Engine) RunDuePayouts(ctx context.Context) {
	e.mu.Lock()
	var due []string
	now := e.now()
	for id, org := range e.state.Orgs {
		if org.Archived || !org.Config.Scheduled.Enabled {
			continue
		}
		if !now.Before(org.NextPayoutDue) {
			due = append(due, id)
		}
	}
	e.mu.Unlock()

	for _, id := range due {
		if _, err := e.RunPayoutCycle(ctx, id); err != nil {
			slog.Error("scheduled payout cycle failed", "org", id, "error", err)
		}
	}
}
