package treasury

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treasury/internal/model"
	"treasury/internal/settlement"
)

// testRig wires an engine against mock settlement services and a
// controllable clock.
type testRig struct {
	engine *Engine
	ledger *settlement.MockLedger
	btc    *settlement.MockMinter
	eth    *settlement.MockMinter
	tiers  *stubTiers
	bus    *captureBus
	now    *time.Time
}

type stubTiers struct {
	members []model.TierMember
	err     error
	calls   int
}

func (s *stubTiers) UsersByTier(ctx context.Context, org string) ([]model.TierMember, error) {
	s.calls++
	return s.members, s.err
}

type captureBus struct {
	topics []string
}

func (b *captureBus) Publish(topic string, data []byte) error {
	b.topics = append(b.topics, topic)
	return nil
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	rig := &testRig{
		ledger: &settlement.MockLedger{},
		btc:    &settlement.MockMinter{Prefix: "bc1q"},
		eth:    &settlement.MockMinter{Prefix: "0x"},
		tiers:  &stubTiers{},
		bus:    &captureBus{},
		now:    &now,
	}
	rig.engine = New(Options{
		Ledger: rig.ledger,
		Minters: map[model.Rail]settlement.Minter{
			model.RailCkBTC: rig.btc,
			model.RailCkETH: rig.eth,
		},
		Tiers: rig.tiers,
		Bus:   rig.bus,
		Now:   func() time.Time { return *rig.now },
	})
	return rig
}

func (r *testRig) advance(d time.Duration) {
	*r.now = r.now.Add(d)
}

func testConfig() model.OrgConfig {
	return model.OrgConfig{
		Rails: map[model.Rail]model.RailConfig{
			model.RailICP:   {Enabled: true},
			model.RailCkBTC: {Enabled: true},
			model.RailCkETH: {Enabled: true},
		},
	}
}

// registerOrg registers an org and seeds its vault directly.
func (r *testRig) registerOrg(t *testing.T, id string, cfg model.OrgConfig, vault map[model.Rail]uint64) {
	t.Helper()
	require.NoError(t, r.engine.RegisterOrg(context.Background(), id, cfg))
	for rail, amt := range vault {
		r.engine.state.vault(id)[rail] = amt
	}
}

func TestRegisterOrgRejectsDuplicates(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	require.NoError(t, rig.engine.RegisterOrg(ctx, "acme", testConfig()))
	err := rig.engine.RegisterOrg(ctx, "acme", testConfig())
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestRegisterOrgRequiresID(t *testing.T) {
	rig := newTestRig(t)
	err := rig.engine.RegisterOrg(context.Background(), "", testConfig())
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestUnknownOrgIsInvariantViolation(t *testing.T) {
	rig := newTestRig(t)
	_, err := rig.engine.VaultBalance(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, KindInvariant, KindOf(err))
}

func TestVaultBalanceReportsAllRails(t *testing.T) {
	rig := newTestRig(t)
	rig.registerOrg(t, "acme", testConfig(), map[model.Rail]uint64{model.RailICP: 70})

	got, err := rig.engine.VaultBalance(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, uint64(70), got[model.RailICP])
	assert.Equal(t, uint64(0), got[model.RailCkBTC])
	assert.Equal(t, uint64(0), got[model.RailCkETH])
}

func TestUpdateOrgConfigEnablingScheduleSetsDueDate(t *testing.T) {
	rig := newTestRig(t)
	rig.registerOrg(t, "acme", testConfig(), nil)
	ctx := context.Background()

	cfg := testConfig()
	cfg.Scheduled = model.ScheduleConfig{Enabled: true, Frequency: model.FreqWeekly}
	require.NoError(t, rig.engine.UpdateOrgConfig(ctx, "acme", cfg))

	org := rig.engine.state.Orgs["acme"]
	assert.Equal(t, rig.now.AddDate(0, 0, 7), org.NextPayoutDue)
}

func TestResetOrgStateClearsWindows(t *testing.T) {
	rig := newTestRig(t)
	cfg := testConfig()
	rc := cfg.Rails[model.RailICP]
	rc.DailyCap = 100
	cfg.Rails[model.RailICP] = rc
	rig.registerOrg(t, "acme", cfg, map[model.Rail]uint64{model.RailICP: 1000})
	ctx := context.Background()

	_, err := rig.engine.Withdraw(ctx, model.WithdrawRequest{
		Org: "acme", Rail: model.RailICP, Amount: 60, Destination: "dst",
	})
	require.NoError(t, err)
	require.Equal(t, uint64(60), rig.engine.state.Windows["acme"].Spent[model.RailICP])

	require.NoError(t, rig.engine.ResetOrgState(ctx, "acme"))
	assert.Nil(t, rig.engine.state.Windows["acme"])
}
