package treasury

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/google/uuid"

	"treasury/internal/model"
	"treasury/internal/settlement"
)

// Per-rail settlement choice: ICP is the primary rail and its ledger
// transfer is a single authenticated step, so withdrawals settle
// synchronously inside the call and no intent is created. ckBTC and ckETH
// involve a separate minting service with its own confirmation latency, so
// they always go through the conversion-intent machine.

// Withdraw moves funds out to an external destination. Funds are debited
// optimistically before the settlement call (the engine lock is never held
// across it); any settlement failure is compensated by crediting the
// original owner back and rolling back the recorded spend.
func (e *Engine) Withdraw(ctx context.Context, req model.WithdrawRequest) (*model.WithdrawResult, error) {
	if req.Amount == 0 {
		return nil, ErrZeroAmount
	}
	if req.Destination == "" {
		return nil, ErrNoDestination
	}
	if _, err := model.ParseRail(string(req.Rail)); err != nil {
		return nil, errValidation("%v", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	org, err := e.activeOrgLocked(req.Org)
	if err != nil {
		return nil, err
	}
	if !org.Config.RailEnabled(req.Rail) {
		return nil, ErrRailDisabled
	}
	if req.User != "" && !e.isCompliantLocked(org, req.User) {
		return nil, ErrNotCompliant
	}
	if err := e.guardSpendLocked(org, req.Rail, req.Amount); err != nil {
		return nil, err
	}

	// Optimistic debit. Everything after this point either settles or
	// compensates; there is no path that leaves the debit dangling.
	fromUser := req.User != ""
	if fromUser {
		if !e.debitUserLocked(req.Org, req.User, req.Rail, req.Amount) {
			return nil, errInsufficient("user balance below %d on %s", req.Amount, req.Rail)
		}
	} else {
		if !e.debitVaultLocked(req.Org, req.Rail, req.Amount) {
			return nil, errInsufficient("vault balance below %d on %s", req.Amount, req.Rail)
		}
	}
	e.recordSpendLocked(org, req.Rail, req.Amount)
	e.touchLocked(org)

	if req.Rail == model.RailICP {
		return e.settleNative(ctx, org, req, fromUser)
	}

	in := &model.ConversionIntent{
		ID:              uuid.NewString(),
		Org:             req.Org,
		User:            req.User,
		Rail:            req.Rail,
		Amount:          req.Amount,
		Destination:     req.Destination,
		Memo:            req.Memo,
		CreatedAt:       e.now(),
		Status:          model.IntentPending,
		FromUserBalance: fromUser,
	}
	e.state.Intents[in.ID] = in
	e.markDirty()

	e.dispatchLocked(ctx, in)

	return &model.WithdrawResult{
		Rail:     in.Rail,
		Amount:   in.Amount,
		IntentID: in.ID,
		Status:   in.Status,
		TxID:     in.TxID,
	}, nil
}

// settleNative completes an ICP withdrawal inline. Called with e.mu held;
// the lock is released around the ledger call.
func (e *Engine) settleNative(ctx context.Context, org *model.OrgAccount, req model.WithdrawRequest, fromUser bool) (*model.WithdrawResult, error) {
	ledger := e.ledger
	if ledger == nil {
		e.compensateMovementLocked(org, req, fromUser)
		return nil, errExternal("ledger endpoint is not configured")
	}

	treq := settlement.TransferRequest{
		FromSubaccount: deriveSubaccount(req.Org, req.User),
		To:             req.Destination,
		Amount:         req.Amount,
		Memo:           req.Memo,
		CreatedAt:      e.now(),
	}

	e.mu.Unlock()
	height, err := ledger.Transfer(ctx, treq)
	e.mu.Lock()

	if err != nil {
		e.compensateMovementLocked(org, req, fromUser)
		return nil, errExternal("ledger transfer failed: %v", err)
	}
	return &model.WithdrawResult{Rail: req.Rail, Amount: req.Amount, Height: height}, nil
}

// dispatchLocked drives Pending → Submitted → {Completed | Failed}. Called
// with e.mu held; the lock is released around the minter call. The intent is
// marked Submitted before the call so a crash mid-flight leaves it
// recoverable through the operator surface.
func (e *Engine) dispatchLocked(ctx context.Context, in *model.ConversionIntent) {
	minter := e.minters[in.Rail]
	if minter == nil {
		e.failIntentLocked(in, "minter endpoint is not configured for "+string(in.Rail))
		return
	}

	in.Status = model.IntentSubmitted
	e.markDirty()

	req := settlement.RetrieveRequest{
		Amount:         in.Amount,
		Destination:    in.Destination,
		FromSubaccount: deriveSubaccount(in.Org, in.User),
	}

	e.mu.Unlock()
	ref, err := minter.Retrieve(ctx, req)
	e.mu.Lock()

	// An operator may have resolved the intent manually while the lock was
	// released; their terminal transition wins.
	if in.Status != model.IntentSubmitted {
		return
	}
	if err != nil {
		e.failIntentLocked(in, err.Error())
		return
	}
	in.Status = model.IntentCompleted
	in.TxID = ref
	e.markDirty()
	e.publish(TopicConversions, in)
}

// failIntentLocked is the terminal Failed transition with compensation: the
// optimistic debit is credited back to whoever funded it and the recorded
// spend is rolled back.
func (e *Engine) failIntentLocked(in *model.ConversionIntent, reason string) {
	in.Status = model.IntentFailed
	in.FailReason = reason
	if in.FromUserBalance {
		e.state.creditUserBalance(in.Org, in.User, in.Rail, in.Amount)
	} else {
		e.creditVaultLocked(in.Org, in.Rail, in.Amount)
	}
	if org, ok := e.state.Orgs[in.Org]; ok {
		e.rollbackSpendLocked(org, in.Rail, in.Amount)
	}
	e.markDirty()
	e.publish(TopicConversions, in)
}

// compensateMovementLocked reverses a synchronous-path debit that never got
// an intent record (native rail).
func (e *Engine) compensateMovementLocked(org *model.OrgAccount, req model.WithdrawRequest, fromUser bool) {
	if fromUser {
		e.state.creditUserBalance(req.Org, req.User, req.Rail, req.Amount)
	} else {
		e.creditVaultLocked(req.Org, req.Rail, req.Amount)
	}
	e.rollbackSpendLocked(org, req.Rail, req.Amount)
	e.markDirty()
}

// RetryConversion replays submission of an intent that is still Pending
// (typically one restored from a checkpoint taken before submission).
// Operator action; Failed intents are terminal and are never retried.
func (e *Engine) RetryConversion(ctx context.Context, id string) (*model.ConversionIntent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	in, ok := e.state.Intents[id]
	if !ok {
		return nil, ErrUnknownIntent
	}
	if in.Status != model.IntentPending {
		return nil, errValidation("intent %s is %s, only pending intents can be retried", id, in.Status)
	}
	e.dispatchLocked(ctx, in)
	out := *in
	return &out, nil
}

// MarkConversionCompleted records an out-of-band confirmed settlement for an
// intent stuck in Submitted.
func (e *Engine) MarkConversionCompleted(ctx context.Context, id, txid string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	in, ok := e.state.Intents[id]
	if !ok {
		return ErrUnknownIntent
	}
	if in.Status != model.IntentSubmitted {
		return errValidation("intent %s is %s, only submitted intents can be completed", id, in.Status)
	}
	in.Status = model.IntentCompleted
	in.TxID = txid
	e.markDirty()
	e.publish(TopicConversions, in)
	return nil
}

// MarkConversionFailed forces the terminal Failed transition (with
// compensation) from Pending or Submitted.
func (e *Engine) MarkConversionFailed(ctx context.Context, id, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	in, ok := e.state.Intents[id]
	if !ok {
		return ErrUnknownIntent
	}
	if in.Status != model.IntentPending && in.Status != model.IntentSubmitted {
		return errValidation("intent %s is already %s", id, in.Status)
	}
	e.failIntentLocked(in, reason)
	return nil
}

// ListConversions returns the org's intents, oldest first.
func (e *Engine) ListConversions(ctx context.Context, org string) ([]model.ConversionIntent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.orgLocked(org); err != nil {
		return nil, err
	}
	var out []model.ConversionIntent
	for _, in := range e.state.Intents {
		if in.Org == org {
			out = append(out, *in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// deriveSubaccount maps (org, user) to the settlement subaccount holding
// their pooled funds. Stable across restarts by construction.
func deriveSubaccount(org, user string) string {
	sum := sha256.Sum256([]byte("sub/" + org + "/" + user))
	return hex.EncodeToString(sum[:])
}
