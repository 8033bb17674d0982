package treasury

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treasury/internal/model"
)

func TestWithdrawValidation(t *testing.T) {
	rig := newTestRig(t)
	rig.registerOrg(t, "acme", testConfig(), map[model.Rail]uint64{model.RailICP: 100})
	ctx := context.Background()

	cases := []struct {
		name string
		req  model.WithdrawRequest
	}{
		{"zero amount", model.WithdrawRequest{Org: "acme", Rail: model.RailICP, Amount: 0, Destination: "dst"}},
		{"no destination", model.WithdrawRequest{Org: "acme", Rail: model.RailICP, Amount: 10}},
		{"bad rail", model.WithdrawRequest{Org: "acme", Rail: model.Rail("doge"), Amount: 10, Destination: "dst"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := rig.engine.Withdraw(ctx, tc.req)
			require.Error(t, err)
			assert.Equal(t, KindValidation, KindOf(err))
		})
	}

	// Nothing moved.
	vault, _ := rig.engine.VaultBalance(ctx, "acme")
	assert.Equal(t, uint64(100), vault[model.RailICP])
}

func TestWithdrawRejectsDisabledRail(t *testing.T) {
	rig := newTestRig(t)
	cfg := testConfig()
	cfg.Rails[model.RailCkBTC] = model.RailConfig{Enabled: false}
	rig.registerOrg(t, "acme", cfg, map[model.Rail]uint64{model.RailCkBTC: 100})

	_, err := rig.engine.Withdraw(context.Background(), model.WithdrawRequest{
		Org: "acme", Rail: model.RailCkBTC, Amount: 10, Destination: "bc1qdst",
	})
	require.ErrorIs(t, err, ErrRailDisabled)
}

func TestWithdrawNativeSettlesSynchronously(t *testing.T) {
	rig := newTestRig(t)
	rig.registerOrg(t, "acme", testConfig(), map[model.Rail]uint64{model.RailICP: 100})
	ctx := context.Background()

	res, err := rig.engine.Withdraw(ctx, model.WithdrawRequest{
		Org: "acme", Rail: model.RailICP, Amount: 40, Destination: "dst", Memo: "rent",
	})
	require.NoError(t, err)
	assert.Empty(t, res.IntentID)
	assert.Equal(t, uint64(1), res.Height)

	vault, _ := rig.engine.VaultBalance(ctx, "acme")
	assert.Equal(t, uint64(60), vault[model.RailICP])
	require.Len(t, rig.ledger.Transfers, 1)
	assert.Equal(t, "dst", rig.ledger.Transfers[0].To)
	assert.Equal(t, uint64(40), rig.ledger.Transfers[0].Amount)
}

func TestWithdrawNativeFailureCompensates(t *testing.T) {
	rig := newTestRig(t)
	rig.registerOrg(t, "acme", testConfig(), map[model.Rail]uint64{model.RailICP: 100})
	rig.ledger.Err = errors.New("ledger unreachable")
	ctx := context.Background()

	_, err := rig.engine.Withdraw(ctx, model.WithdrawRequest{
		Org: "acme", Rail: model.RailICP, Amount: 40, Destination: "dst",
	})
	require.Error(t, err)
	assert.Equal(t, KindExternal, KindOf(err))

	vault, _ := rig.engine.VaultBalance(ctx, "acme")
	assert.Equal(t, uint64(100), vault[model.RailICP])
	assert.Equal(t, uint64(0), rig.engine.state.Windows["acme"].Spent[model.RailICP])
}

func TestWithdrawFromUserBalance(t *testing.T) {
	rig := newTestRig(t)
	rig.registerOrg(t, "acme", testConfig(), nil)
	rig.engine.state.creditUserBalance("acme", "alice", model.RailICP, 50)
	ctx := context.Background()

	_, err := rig.engine.Withdraw(ctx, model.WithdrawRequest{
		Org: "acme", User: "alice", Rail: model.RailICP, Amount: 30, Destination: "dst",
	})
	require.NoError(t, err)

	bal, _ := rig.engine.UserBalance(ctx, "acme", "alice")
	assert.Equal(t, uint64(20), bal[model.RailICP])
}

func TestWithdrawRejectsUserOverdraft(t *testing.T) {
	rig := newTestRig(t)
	rig.registerOrg(t, "acme", testConfig(), map[model.Rail]uint64{model.RailICP: 1000})
	rig.engine.state.creditUserBalance("acme", "alice", model.RailICP, 30)
	ctx := context.Background()

	// The user's own balance, not the vault, bounds a user withdrawal.
	_, err := rig.engine.Withdraw(ctx, model.WithdrawRequest{
		Org: "acme", User: "alice", Rail: model.RailICP, Amount: 50, Destination: "dst",
	})
	require.Error(t, err)
	assert.Equal(t, KindInsufficient, KindOf(err))

	bal, _ := rig.engine.UserBalance(ctx, "acme", "alice")
	assert.Equal(t, uint64(30), bal[model.RailICP])
	assert.Empty(t, rig.ledger.Transfers)
}

func TestWithdrawBridgedCompletes(t *testing.T) {
	rig := newTestRig(t)
	rig.registerOrg(t, "acme", testConfig(), map[model.Rail]uint64{model.RailCkBTC: 100})
	ctx := context.Background()

	res, err := rig.engine.Withdraw(ctx, model.WithdrawRequest{
		Org: "acme", Rail: model.RailCkBTC, Amount: 25, Destination: "bc1qdst",
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.IntentID)
	assert.Equal(t, model.IntentCompleted, res.Status)
	assert.Equal(t, "bc1q-ref-1", res.TxID)

	vault, _ := rig.engine.VaultBalance(ctx, "acme")
	assert.Equal(t, uint64(75), vault[model.RailCkBTC])
	require.Len(t, rig.btc.Retrievals, 1)
	assert.Equal(t, uint64(25), rig.btc.Retrievals[0].Amount)
}

func TestWithdrawBridgedFailureCompensates(t *testing.T) {
	rig := newTestRig(t)
	rig.registerOrg(t, "acme", testConfig(), map[model.Rail]uint64{model.RailCkBTC: 100})
	rig.btc.Err = errors.New("minter timeout")
	ctx := context.Background()

	res, err := rig.engine.Withdraw(ctx, model.WithdrawRequest{
		Org: "acme", Rail: model.RailCkBTC, Amount: 5, Destination: "bc1qdst",
	})
	require.NoError(t, err)
	assert.Equal(t, model.IntentFailed, res.Status)

	// The debit is compensated and the recorded spend rolled back.
	vault, _ := rig.engine.VaultBalance(ctx, "acme")
	assert.Equal(t, uint64(100), vault[model.RailCkBTC])
	assert.Equal(t, uint64(0), rig.engine.state.Windows["acme"].Spent[model.RailCkBTC])

	in := rig.engine.state.Intents[res.IntentID]
	require.NotNil(t, in)
	assert.Equal(t, model.IntentFailed, in.Status)
	assert.Contains(t, in.FailReason, "minter timeout")
}

func TestWithdrawBridgedWithoutMinterFails(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.SetMinter(model.RailCkETH, nil)
	rig.registerOrg(t, "acme", testConfig(), map[model.Rail]uint64{model.RailCkETH: 100})
	ctx := context.Background()

	res, err := rig.engine.Withdraw(ctx, model.WithdrawRequest{
		Org: "acme", Rail: model.RailCkETH, Amount: 10, Destination: "0xdst",
	})
	require.NoError(t, err)
	assert.Equal(t, model.IntentFailed, res.Status)

	vault, _ := rig.engine.VaultBalance(ctx, "acme")
	assert.Equal(t, uint64(100), vault[model.RailCkETH])
}

func TestRetryConversionReplaysPendingOnly(t *testing.T) {
	rig := newTestRig(t)
	rig.registerOrg(t, "acme", testConfig(), nil)
	ctx := context.Background()

	// A Pending intent as restored from a checkpoint taken before submission.
	rig.engine.state.Intents["in-1"] = &model.ConversionIntent{
		ID: "in-1", Org: "acme", Rail: model.RailCkBTC, Amount: 7,
		Destination: "bc1qdst", Status: model.IntentPending, CreatedAt: rig.engine.now(),
	}

	out, err := rig.engine.RetryConversion(ctx, "in-1")
	require.NoError(t, err)
	assert.Equal(t, model.IntentCompleted, out.Status)
	require.Len(t, rig.btc.Retrievals, 1)

	_, err = rig.engine.RetryConversion(ctx, "in-1")
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = rig.engine.RetryConversion(ctx, "nope")
	require.ErrorIs(t, err, ErrUnknownIntent)
}

func TestMarkConversionCompleted(t *testing.T) {
	rig := newTestRig(t)
	rig.registerOrg(t, "acme", testConfig(), nil)
	ctx := context.Background()

	rig.engine.state.Intents["in-1"] = &model.ConversionIntent{
		ID: "in-1", Org: "acme", Rail: model.RailCkBTC, Amount: 7,
		Destination: "bc1qdst", Status: model.IntentSubmitted, CreatedAt: rig.engine.now(),
	}

	require.NoError(t, rig.engine.MarkConversionCompleted(ctx, "in-1", "txid-abc"))
	in := rig.engine.state.Intents["in-1"]
	assert.Equal(t, model.IntentCompleted, in.Status)
	assert.Equal(t, "txid-abc", in.TxID)

	// Completed is terminal.
	err := rig.engine.MarkConversionCompleted(ctx, "in-1", "txid-other")
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestMarkConversionFailedCompensates(t *testing.T) {
	rig := newTestRig(t)
	rig.registerOrg(t, "acme", testConfig(), nil)
	ctx := context.Background()

	rig.engine.state.Intents["in-1"] = &model.ConversionIntent{
		ID: "in-1", Org: "acme", Rail: model.RailCkBTC, Amount: 7,
		Destination: "bc1qdst", Status: model.IntentSubmitted, CreatedAt: rig.engine.now(),
	}

	require.NoError(t, rig.engine.MarkConversionFailed(ctx, "in-1", "stuck on chain"))
	in := rig.engine.state.Intents["in-1"]
	assert.Equal(t, model.IntentFailed, in.Status)
	assert.Equal(t, "stuck on chain", in.FailReason)

	vault, _ := rig.engine.VaultBalance(ctx, "acme")
	assert.Equal(t, uint64(7), vault[model.RailCkBTC])

	err := rig.engine.MarkConversionFailed(ctx, "in-1", "again")
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestConversionConservation(t *testing.T) {
	rig := newTestRig(t)
	rig.registerOrg(t, "acme", testConfig(), map[model.Rail]uint64{model.RailCkBTC: 200})
	rig.engine.state.creditUserBalance("acme", "alice", model.RailCkBTC, 40)
	rig.btc.Err = errors.New("boom")
	ctx := context.Background()

	total := func() uint64 {
		vault, _ := rig.engine.VaultBalance(ctx, "acme")
		bal, _ := rig.engine.UserBalance(ctx, "acme", "alice")
		return vault[model.RailCkBTC] + bal[model.RailCkBTC]
	}
	before := total()

	_, err := rig.engine.Withdraw(ctx, model.WithdrawRequest{
		Org: "acme", User: "alice", Rail: model.RailCkBTC, Amount: 15, Destination: "bc1qdst",
	})
	require.NoError(t, err)

	// Failed conversions compensate in full: no value created or destroyed.
	assert.Equal(t, before, total())
}

func TestListConversionsSortedByCreation(t *testing.T) {
	rig := newTestRig(t)
	rig.registerOrg(t, "acme", testConfig(), map[model.Rail]uint64{model.RailCkBTC: 100})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := rig.engine.Withdraw(ctx, model.WithdrawRequest{
			Org: "acme", Rail: model.RailCkBTC, Amount: 1, Destination: "bc1qdst",
		})
		require.NoError(t, err)
		rig.advance(time.Minute)
	}

	list, err := rig.engine.ListConversions(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.True(t, list[0].CreatedAt.Before(list[1].CreatedAt))
	assert.True(t, list[1].CreatedAt.Before(list[2].CreatedAt))
}
