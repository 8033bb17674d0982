package treasury

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"treasury/internal/model"
)

// DepositAddress issues the deposit address for (org, optional user, rail).
// Issuance is idempotent twice over: a cached record short-circuits before
// any generation, and the address itself derives deterministically from the
// settlement account, so repeated requests always return the same address.
// Bridged rails ask their minting service; the native rail derives locally.
func (e *Engine) DepositAddress(ctx context.Context, id, user string, rail model.Rail) (string, error) {
	if _, err := model.ParseRail(string(rail)); err != nil {
		return "", errValidation("%v", err)
	}

	e.mu.Lock()
	org, err := e.activeOrgLocked(id)
	if err != nil {
		e.mu.Unlock()
		return "", err
	}
	key := AddrKey{Org: id, User: user, Rail: rail}
	if rec, ok := e.state.DepositAddrs[key]; ok {
		e.mu.Unlock()
		return rec.Address, nil
	}
	e.touchLocked(org)
	account := deriveSubaccount(id, user)

	var address string
	if rail == model.RailICP {
		address = "icp-" + account
		e.mu.Unlock()
	} else {
		minter := e.minters[rail]
		e.mu.Unlock()
		if minter == nil {
			return "", errExternal("minter endpoint is not configured for %s", rail)
		}
		address, err = minter.GetDepositAddress(ctx, account)
		if err != nil {
			return "", errExternal("deposit address query failed: %v", err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// Another request for the same key may have landed while the lock was
	// released; the derivation is deterministic so both computed the same
	// address, and the first stored record stays.
	if rec, ok := e.state.DepositAddrs[key]; ok {
		return rec.Address, nil
	}
	e.state.DepositAddrs[key] = model.DepositAddress{
		Org: id, User: user, Rail: rail,
		Address:   address,
		CreatedAt: e.now(),
	}
	e.markDirty()
	return address, nil
}

// RecordDeposit registers an observed inbound deposit for later
// reconciliation. Admin surface; duplicate transaction references for the
// same org and rail are rejected so a feed replay cannot seed double
// credits.
func (e *Engine) RecordDeposit(ctx context.Context, dep model.Deposit) (string, error) {
	if dep.Amount == 0 {
		return "", ErrZeroAmount
	}
	if _, err := model.ParseRail(string(dep.Rail)); err != nil {
		return "", errValidation("%v", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	org, err := e.activeOrgLocked(dep.Org)
	if err != nil {
		return "", err
	}
	if dep.TxRef != "" {
		for _, existing := range e.state.Deposits {
			if existing.Org == dep.Org && existing.Rail == dep.Rail && existing.TxRef == dep.TxRef {
				return existing.ID, nil
			}
		}
	}
	dep.ID = uuid.NewString()
	dep.CkMinted = false
	dep.Credited = false
	dep.ReceivedAt = e.now()
	e.state.Deposits[dep.ID] = &dep
	e.touchLocked(org)
	return dep.ID, nil
}

// ProcessInboundDeposits reconciles every recorded deposit for an org.
// Idempotent per record via the ckMinted/credited pair: a record that has
// already minted and credited is skipped, so a batch re-run never
// double-credits.
func (e *Engine) ProcessInboundDeposits(ctx context.Context, id string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.activeOrgLocked(id); err != nil {
		return 0, err
	}

	credited := 0
	for _, dep := range e.state.Deposits {
		if dep.Org != id || dep.Credited {
			continue
		}
		if !dep.CkMinted {
			dep.CkMinted = true
		}
		if dep.User != "" {
			e.state.creditUserBalance(dep.Org, dep.User, dep.Rail, dep.Amount)
		} else {
			e.creditVaultLocked(dep.Org, dep.Rail, dep.Amount)
		}
		dep.Credited = true
		credited++
		e.markDirty()
	}
	return credited, nil
}

// ForceArchive sweeps the org's vault into the factory pool and archives it.
// Administrative action; reversal requires explicit re-provisioning.
func (e *Engine) ForceArchive(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	org, err := e.orgLocked(id)
	if err != nil {
		return err
	}
	if org.Archived {
		return ErrOrgArchived
	}
	e.archiveLocked(org)
	return nil
}

// SweepInactive runs the deadman switch across all orgs: any org whose
// inactivity exceeds its configured threshold has 100% of its vault swept
// into the factory pool and is archived. Returns the number of orgs swept.
func (e *Engine) SweepInactive(ctx context.Context) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	swept := 0
	for _, org := range e.state.Orgs {
		dm := org.Config.Deadman
		if org.Archived || !dm.Enabled || dm.Threshold <= 0 {
			continue
		}
		if now.Sub(org.LastActive) <= dm.Threshold {
			continue
		}
		e.archiveLocked(org)
		swept++
	}
	return swept
}

func (e *Engine) archiveLocked(org *model.OrgAccount) {
	v := e.state.Vaults[org.ID]
	for rail, amount := range v {
		if amount == 0 {
			continue
		}
		e.state.FactoryVault[rail] += amount
		v[rail] = 0
	}
	org.Archived = true
	e.markDirty()
	slog.Info("organization archived, vault swept to factory pool", "org", org.ID)
}
