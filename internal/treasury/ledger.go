package treasury

import (
	"treasury/internal/model"
)

// Ledger primitives. These are the only functions that touch balances; every
// higher-level engine goes through them, so the no-negative-balance
// invariant is enforced in exactly one place. All of them run with e.mu
// held.

// creditVaultLocked adds to the pooled balance. Exact arithmetic; amounts
// are validated positive before reaching here.
func (e *Engine) creditVaultLocked(org string, rail model.Rail, amount uint64) {
	e.state.vault(org)[rail] += amount
	e.markDirty()
}

// debitVaultLocked removes from the pooled balance. Returns false without
// mutation when the balance is short.
func (e *Engine) debitVaultLocked(org string, rail model.Rail, amount uint64) bool {
	v := e.state.vault(org)
	if v[rail] < amount {
		return false
	}
	v[rail] -= amount
	e.markDirty()
	return true
}

// creditUserLocked moves value into a user's sub-balance. With
// debitVaultFirst the vault must cover the amount and still retain the
// rail's configured minimum reserve afterwards; if either check fails
// nothing mutates. This is the single path used by the micro-tip and payout
// engines, so user balances are never created without a matching vault
// debit.
func (e *Engine) creditUserLocked(org *model.OrgAccount, user string, rail model.Rail, amount uint64, debitVaultFirst bool) error {
	if debitVaultFirst {
		v := e.state.vault(org.ID)
		if v[rail] < amount {
			return errInsufficient("vault balance %d below %d on %s", v[rail], amount, rail)
		}
		reserve := org.Config.Rails[rail].MinReserve
		if v[rail]-amount < reserve {
			return errInsufficient("vault would drop below %s reserve %d", rail, reserve)
		}
		v[rail] -= amount
	}
	e.state.creditUserBalance(org.ID, user, rail, amount)
	e.markDirty()
	return nil
}

// debitUserLocked removes from a user's sub-balance, dropping zero entries.
func (e *Engine) debitUserLocked(org, user string, rail model.Rail, amount uint64) bool {
	if !e.state.debitUserBalance(org, user, rail, amount) {
		return false
	}
	e.markDirty()
	return true
}
