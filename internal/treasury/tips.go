package treasury

import (
	"context"

	"treasury/internal/model"
)

// RepAwarded reacts to an inbound reputation-award notification. Disabled
// tipping, a non-positive delta, or a non-compliant recipient make it a
// no-op. The rolling rate window caps the number of tip events per window
// regardless of amounts, bounding the cost of award storms separately from
// the daily amount caps.
//
// Each enabled rail with a configured unit amount is attempted
// independently: a rail failing its spend guard or liquidity check is
// recorded in the tip log with its reason and the remaining rails still run.
func (e *Engine) RepAwarded(ctx context.Context, id, user string, repDelta int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	org, err := e.activeOrgLocked(id)
	if err != nil {
		return err
	}
	e.touchLocked(org)

	if !org.Config.Tip.Enabled || repDelta <= 0 {
		return nil
	}
	if !e.isCompliantLocked(org, user) {
		return nil
	}

	now := e.now()
	if window := org.Config.Tip.Window; window > 0 {
		if now.Sub(org.WindowStart) >= window {
			org.WindowStart = now
			org.EventsInWindow = 0
		}
		if limit := org.Config.Tip.MaxEventsPerWindow; limit > 0 && org.EventsInWindow >= limit {
			e.logTipLocked(model.TipEvent{
				Org: id, User: user, RepDelta: repDelta,
				Reason: "tip rate window exceeded", At: now,
			})
			return nil
		}
		org.EventsInWindow++
	}

	for _, rail := range model.Rails() {
		rc := org.Config.Rails[rail]
		if !rc.Enabled || rc.TipUnitAmount == 0 {
			continue
		}
		amount := rc.TipUnitAmount * uint64(repDelta)
		ev := model.TipEvent{Org: id, User: user, Rail: rail, Amount: amount, RepDelta: repDelta, At: now}

		// A wrapped product would silently credit a tiny amount.
		if amount/rc.TipUnitAmount != uint64(repDelta) {
			ev.Amount = 0
			ev.Reason = "tip amount overflows"
			e.logTipLocked(ev)
			continue
		}

		if err := e.guardSpendLocked(org, rail, amount); err != nil {
			ev.Reason = err.Error()
			e.logTipLocked(ev)
			continue
		}
		if err := e.creditUserLocked(org, user, rail, amount, true); err != nil {
			ev.Reason = err.Error()
			e.logTipLocked(ev)
			continue
		}
		e.recordSpendLocked(org, rail, amount)
		ev.OK = true
		e.logTipLocked(ev)
	}
	return nil
}

func (e *Engine) logTipLocked(ev model.TipEvent) {
	e.state.TipLog.Append(ev)
	e.markDirty()
	e.publish(TopicTips, ev)
}

// TipEvents returns the retained tip audit log, oldest first.
func (e *Engine) TipEvents(ctx context.Context, org string) ([]model.TipEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.orgLocked(org); err != nil {
		return nil, err
	}
	var out []model.TipEvent
	for _, ev := range e.state.TipLog.Items() {
		if ev.Org == org {
			out = append(out, ev)
		}
	}
	return out, nil
}

// PayoutEvents returns the retained payout audit log, oldest first.
func (e *Engine) PayoutEvents(ctx context.Context, org string) ([]model.PayoutEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.orgLocked(org); err != nil {
		return nil, err
	}
	var out []model.PayoutEvent
	for _, ev := range e.state.PayoutLog.Items() {
		if ev.Org == org {
			out = append(out, ev)
		}
	}
	return out, nil
}
