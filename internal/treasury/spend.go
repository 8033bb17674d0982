package treasury

import (
	"github.com/shopspring/decimal"

	"treasury/internal/model"
)

const dayLayout = "2006-01-02"

// windowLocked returns the org's current-day spend window, resetting it
// lazily when the UTC day has advanced.
func (e *Engine) windowLocked(org string) *model.SpendWindow {
	day := e.now().UTC().Format(dayLayout)
	w, ok := e.state.Windows[org]
	if !ok || w.Day != day {
		w = &model.SpendWindow{
			Day:      day,
			Spent:    make(map[model.Rail]uint64),
			USDSpent: decimal.Zero,
		}
		e.state.Windows[org] = w
		e.markDirty()
	}
	return w
}

// guardSpendLocked rejects a movement whose hypothetical post-movement
// cumulative would exceed the rail's daily cap or the org's USD cap. Pure
// check: it never mutates the window, so a rejected guard leaves no trace.
func (e *Engine) guardSpendLocked(org *model.OrgAccount, rail model.Rail, amount uint64) error {
	w := e.windowLocked(org.ID)

	if limit := org.Config.Rails[rail].DailyCap; limit > 0 {
		if w.Spent[rail]+amount > limit {
			return errInsufficient("daily %s cap %d exceeded (spent %d, requested %d)", rail, limit, w.Spent[rail], amount)
		}
	}

	if usdCap := org.Config.USDDailyCap; usdCap.IsPositive() {
		price, ok := e.state.Prices[rail]
		if ok && price.IsPositive() {
			usd := price.Mul(decimal.NewFromUint64(amount))
			if w.USDSpent.Add(usd).GreaterThan(usdCap) {
				return errInsufficient("daily USD cap %s exceeded (spent %s, requested %s)", usdCap, w.USDSpent, usd)
			}
		}
	}
	return nil
}

// recordSpendLocked commits a movement that actually happened. Guard and
// record are separate on purpose: guard failures must never mutate state.
func (e *Engine) recordSpendLocked(org *model.OrgAccount, rail model.Rail, amount uint64) {
	w := e.windowLocked(org.ID)
	w.Spent[rail] += amount
	if price, ok := e.state.Prices[rail]; ok && price.IsPositive() {
		w.USDSpent = w.USDSpent.Add(price.Mul(decimal.NewFromUint64(amount)))
	}
	e.markDirty()
}

// rollbackSpendLocked reverses a previously recorded amount, flooring at
// zero. A conversion recorded yesterday may fail today; after the lazy day
// reset there is nothing left to subtract and that is fine.
func (e *Engine) rollbackSpendLocked(org *model.OrgAccount, rail model.Rail, amount uint64) {
	w := e.windowLocked(org.ID)
	if w.Spent[rail] >= amount {
		w.Spent[rail] -= amount
	} else {
		w.Spent[rail] = 0
	}
	if price, ok := e.state.Prices[rail]; ok && price.IsPositive() {
		usd := price.Mul(decimal.NewFromUint64(amount))
		w.USDSpent = w.USDSpent.Sub(usd)
		if w.USDSpent.IsNegative() {
			w.USDSpent = decimal.Zero
		}
	}
	e.markDirty()
}
