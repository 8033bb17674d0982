package treasury

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"treasury/internal/model"
	"treasury/internal/settlement"
	"treasury/internal/store"
)

// MessageBus publishes audit events. Transports provide NATS-backed
// implementations; tests use NopBus.
type MessageBus interface {
	Publish(topic string, data []byte) error
}

// NopBus discards everything.
type NopBus struct{}

func (NopBus) Publish(string, []byte) error { return nil }

// Audit event topics.
const (
	TopicTips        = "treasury.tips"
	TopicPayouts     = "treasury.payouts"
	TopicConversions = "treasury.conversions"
)

// TierSource is the external reputation collaborator queried during a payout
// cycle.
type TierSource interface {
	UsersByTier(ctx context.Context, org string) ([]model.TierMember, error)
}

// Engine owns all treasury state and serializes every state-mutating entry
// point behind one mutex. The lock is never held across a settlement call:
// balance mutations that precede an external call use optimistic debit and
// are compensated if the call fails (see convert.go).
type Engine struct {
	mu    sync.Mutex
	state *State
	dirty bool

	ledger  settlement.Ledger
	minters map[model.Rail]settlement.Minter
	tiers   TierSource
	bus     MessageBus
	now     func() time.Time
}

// Options configures an Engine. Zero-value fields get safe defaults; the
// settlement clients may be absent at construction and assigned later via
// the admin surface.
type Options struct {
	State    *State
	AuditCap int
	Ledger   settlement.Ledger
	Minters  map[model.Rail]settlement.Minter
	Tiers    TierSource
	Bus      MessageBus
	Now      func() time.Time
}

const defaultAuditCap = 1000

func New(opts Options) *Engine {
	if opts.AuditCap <= 0 {
		opts.AuditCap = defaultAuditCap
	}
	if opts.State == nil {
		opts.State = NewState(opts.AuditCap)
	}
	if opts.Minters == nil {
		opts.Minters = make(map[model.Rail]settlement.Minter)
	}
	if opts.Bus == nil {
		opts.Bus = NopBus{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		state:   opts.State,
		ledger:  opts.Ledger,
		minters: opts.Minters,
		tiers:   opts.Tiers,
		bus:     opts.Bus,
		now:     opts.Now,
	}
}

// SetLedger assigns the native-rail ledger client (admin endpoint config).
func (e *Engine) SetLedger(l settlement.Ledger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ledger = l
}

// SetMinter assigns the minting client for a bridged rail.
func (e *Engine) SetMinter(rail model.Rail, m settlement.Minter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.minters[rail] = m
}

// ConfigureLedgerEndpoint points the native rail at a ledger gateway URL
// (admin surface).
func (e *Engine) ConfigureLedgerEndpoint(ctx context.Context, url string) error {
	if url == "" {
		return errValidation("ledger url is required")
	}
	e.SetLedger(settlement.NewLedgerClient(url))
	return nil
}

// ConfigureMinterEndpoint points a bridged rail at its minting service URL.
func (e *Engine) ConfigureMinterEndpoint(ctx context.Context, rail model.Rail, url string) error {
	if _, err := model.ParseRail(string(rail)); err != nil {
		return errValidation("%v", err)
	}
	if rail == model.RailICP {
		return errValidation("%s settles through the ledger, not a minter", rail)
	}
	if url == "" {
		return errValidation("minter url is required")
	}
	e.SetMinter(rail, settlement.NewMinterClient(url))
	return nil
}

// markDirty flags the state for the next checkpoint. Callers hold e.mu.
func (e *Engine) markDirty() { e.dirty = true }

// ExportIfDirty snapshots the state when anything changed since the last
// checkpoint. The dirty flag is cleared optimistically; a failed save should
// be followed by ForceDirty so the next tick retries.
func (e *Engine) ExportIfDirty() ([]store.Pair, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.dirty {
		return nil, false, nil
	}
	pairs, err := e.state.Export()
	if err != nil {
		return nil, false, err
	}
	e.dirty = false
	return pairs, true, nil
}

// ForceDirty re-arms the checkpoint after a failed save.
func (e *Engine) ForceDirty() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dirty = true
}

// orgLocked resolves an org. An unknown org is an invariant violation
// rather than bad input; it is not reachable through valid provisioning.
func (e *Engine) orgLocked(id string) (*model.OrgAccount, error) {
	org, ok := e.state.Orgs[id]
	if !ok {
		return nil, ErrUnknownOrg
	}
	return org, nil
}

// activeOrgLocked additionally rejects archived orgs.
func (e *Engine) activeOrgLocked(id string) (*model.OrgAccount, error) {
	org, err := e.orgLocked(id)
	if err != nil {
		return nil, err
	}
	if org.Archived {
		return nil, ErrOrgArchived
	}
	return org, nil
}

func (e *Engine) touchLocked(org *model.OrgAccount) {
	org.LastActive = e.now()
	e.markDirty()
}

// RegisterOrg provisions a tenant. Called by the external provisioning
// collaborator; re-registration is rejected.
func (e *Engine) RegisterOrg(ctx context.Context, id string, cfg model.OrgConfig) error {
	if id == "" {
		return errValidation("organization id is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.state.Orgs[id]; ok {
		return ErrOrgExists
	}
	now := e.now()
	org := &model.OrgAccount{
		ID:          id,
		Config:      cfg,
		LastActive:  now,
		WindowStart: now,
	}
	org.NextPayoutDue = nextDue(now, cfg.Scheduled)
	e.state.Orgs[id] = org
	e.markDirty()
	return nil
}

// UpdateOrgConfig replaces the tenant configuration. The payout due date is
// recomputed only when scheduling was previously disabled.
func (e *Engine) UpdateOrgConfig(ctx context.Context, id string, cfg model.OrgConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	org, err := e.activeOrgLocked(id)
	if err != nil {
		return err
	}
	wasEnabled := org.Config.Scheduled.Enabled
	org.Config = cfg
	if cfg.Scheduled.Enabled && !wasEnabled {
		org.NextPayoutDue = nextDue(e.now(), cfg.Scheduled)
	}
	e.touchLocked(org)
	return nil
}

// ResetOrgState clears the tenant's rolling windows (spend and tip-rate).
// Balances, intents, and audit history are retained.
func (e *Engine) ResetOrgState(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	org, err := e.orgLocked(id)
	if err != nil {
		return err
	}
	delete(e.state.Windows, id)
	org.WindowStart = e.now()
	org.EventsInWindow = 0
	e.touchLocked(org)
	return nil
}

// VaultBalance returns the org's pooled balances. Rails with a zero balance
// are present with value 0 so callers always see all three rails.
func (e *Engine) VaultBalance(ctx context.Context, id string) (map[model.Rail]uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.orgLocked(id); err != nil {
		return nil, err
	}
	out := make(map[model.Rail]uint64, 3)
	v := e.state.Vaults[id]
	for _, r := range model.Rails() {
		out[r] = v[r]
	}
	return out, nil
}

// UserBalance returns a user's sparse entitlements; absent rails are zero.
func (e *Engine) UserBalance(ctx context.Context, id, user string) (map[model.Rail]uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.orgLocked(id); err != nil {
		return nil, err
	}
	out := make(map[model.Rail]uint64)
	for rail, amt := range e.state.Users[UserKey{Org: id, User: user}] {
		out[rail] = amt
	}
	return out, nil
}

// FactoryVault returns the pooled balances accumulated by deadman sweeps.
func (e *Engine) FactoryVault(ctx context.Context) map[model.Rail]uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[model.Rail]uint64, len(e.state.FactoryVault))
	for rail, amt := range e.state.FactoryVault {
		out[rail] = amt
	}
	return out
}

// SetUserCompliance records a user's KYC flag and tags.
func (e *Engine) SetUserCompliance(ctx context.Context, id, user string, rec model.ComplianceRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.orgLocked(id); err != nil {
		return err
	}
	e.state.Compliance[UserKey{Org: id, User: user}] = rec
	e.markDirty()
	return nil
}

// SetRailPrice configures the externally supplied USD price of one rail's
// base unit. Prices feed only the USD daily cap; nothing here computes them.
func (e *Engine) SetRailPrice(ctx context.Context, rail model.Rail, price decimal.Decimal) error {
	if price.IsNegative() {
		return errValidation("price must not be negative")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Prices[rail] = price
	e.markDirty()
	return nil
}

// SetControllers assigns the factory-level administrative principals.
func (e *Engine) SetControllers(ctx context.Context, c model.Controllers) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Controllers = c
	e.markDirty()
	return nil
}

// SetOrgAdminOverride assigns a per-org admin principal.
func (e *Engine) SetOrgAdminOverride(ctx context.Context, id, principal string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	org, err := e.orgLocked(id)
	if err != nil {
		return err
	}
	org.AdminOverride = principal
	e.markDirty()
	return nil
}

// publish fires an audit event. The bus is best-effort: a publish failure
// never fails the treasury operation that produced the event.
func (e *Engine) publish(topic string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("treasury: failed to marshal audit event", "topic", topic, "error", err)
		return
	}
	if err := e.bus.Publish(topic, data); err != nil {
		slog.Error("treasury: failed to publish audit event", "topic", topic, "error", err)
	}
}
