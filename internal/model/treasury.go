package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Rail is one of the three supported asset classes. ICP settles through the
// native ledger in a single transfer call; ckBTC and ckETH settle through
// their minting services and therefore go through the conversion-intent
// lifecycle.
type Rail string

const (
	RailICP   Rail = "ICP"
	RailCkBTC Rail = "ckBTC"
	RailCkETH Rail = "ckETH"
)

// Rails returns all supported rails in a stable order.
func Rails() []Rail {
	return []Rail{RailICP, RailCkBTC, RailCkETH}
}

func ParseRail(s string) (Rail, error) {
	switch Rail(s) {
	case RailICP, RailCkBTC, RailCkETH:
		return Rail(s), nil
	}
	return "", fmt.Errorf("unknown rail %q", s)
}

// Tier is a membership classification used to compute scheduled payout
// entitlements.
type Tier string

const (
	TierBronze Tier = "bronze"
	TierSilver Tier = "silver"
	TierGold   Tier = "gold"
	TierCustom Tier = "custom"
)

// TierMember is one entry of the membership listing returned by the external
// reputation collaborator.
type TierMember struct {
	User string `json:"user"`
	Tier Tier   `json:"tier"`
}

// Frequency controls how NextPayoutDue is advanced after a payout cycle.
type Frequency string

const (
	FreqWeekly     Frequency = "weekly"
	FreqMonthly    Frequency = "monthly"
	FreqEveryNDays Frequency = "every_n_days"
)

// RailConfig holds the per-rail knobs of one organization.
type RailConfig struct {
	Enabled       bool   `json:"enabled"`
	DailyCap      uint64 `json:"daily_cap"`       // 0 disables the per-rail cap
	TipUnitAmount uint64 `json:"tip_unit_amount"` // base units credited per reputation point
	MinReserve    uint64 `json:"min_reserve"`     // vault floor kept after vault→user credits
}

// TipConfig bounds micro-tip bursts. The window caps the number of tip
// events regardless of amount, separately from the daily amount caps.
type TipConfig struct {
	Enabled            bool          `json:"enabled"`
	Window             time.Duration `json:"window"`
	MaxEventsPerWindow int           `json:"max_events_per_window"`
}

// ScheduleConfig drives the scheduled payout engine.
type ScheduleConfig struct {
	Enabled   bool      `json:"enabled"`
	Frequency Frequency `json:"frequency"`
	EveryDays int       `json:"every_days"` // used when Frequency == FreqEveryNDays
}

// ComplianceRule is consulted before any outbound value movement.
// An org that requires neither KYC nor tags accepts everyone.
type ComplianceRule struct {
	RequireKYC   bool     `json:"require_kyc"`
	TagWhitelist []string `json:"tag_whitelist"`
}

// DeadmanConfig is the inactivity switch: once LastActive is older than the
// threshold the org's vault is swept into the factory pool and the org is
// archived.
type DeadmanConfig struct {
	Enabled   bool          `json:"enabled"`
	Threshold time.Duration `json:"threshold"`
}

// OrgConfig is the full per-tenant configuration.
type OrgConfig struct {
	Rails        map[Rail]RailConfig      `json:"rails"`
	USDDailyCap  decimal.Decimal          `json:"usd_daily_cap"` // zero disables the USD cap
	Tip          TipConfig                `json:"tip"`
	Scheduled    ScheduleConfig           `json:"scheduled"`
	Compliance   ComplianceRule           `json:"compliance"`
	Deadman      DeadmanConfig            `json:"deadman"`
	Entitlements map[Tier]map[Rail]uint64 `json:"entitlements"`
}

// RailEnabled reports whether the rail exists in the config and is enabled.
func (c OrgConfig) RailEnabled(r Rail) bool {
	rc, ok := c.Rails[r]
	return ok && rc.Enabled
}

// OrgAccount is the per-tenant record. WindowStart/EventsInWindow carry the
// rolling micro-tip rate window across requests.
type OrgAccount struct {
	ID             string    `json:"id"`
	Config         OrgConfig `json:"config"`
	LastActive     time.Time `json:"last_active"`
	Archived       bool      `json:"archived"`
	NextPayoutDue  time.Time `json:"next_payout_due"`
	WindowStart    time.Time `json:"window_start"`
	EventsInWindow int       `json:"events_in_window"`
	AdminOverride  string    `json:"admin_override,omitempty"`
}

// SpendWindow is one calendar-day bucket of cumulative outbound value per
// rail plus the USD-equivalent accumulator. Day is the UTC date, reset
// lazily when the day advances.
type SpendWindow struct {
	Day      string          `json:"day"`
	Spent    map[Rail]uint64 `json:"spent"`
	USDSpent decimal.Decimal `json:"usd_spent"`
}

// IntentStatus is the conversion-intent lifecycle state.
type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentSubmitted IntentStatus = "submitted"
	IntentCompleted IntentStatus = "completed"
	IntentFailed    IntentStatus = "failed"
)

// ConversionIntent is the durable record of an outbound transfer through a
// minting service. Append-only except for status transitions; never deleted.
// FromUserBalance records whose funds were debited so failure compensation
// credits the correct owner.
type ConversionIntent struct {
	ID              string       `json:"id"`
	Org             string       `json:"org"`
	User            string       `json:"user,omitempty"`
	Rail            Rail         `json:"rail"`
	Amount          uint64       `json:"amount"`
	Destination     string       `json:"destination"`
	Memo            string       `json:"memo,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	Status          IntentStatus `json:"status"`
	TxID            string       `json:"txid,omitempty"`
	FailReason      string       `json:"fail_reason,omitempty"`
	FromUserBalance bool         `json:"from_user_balance"`
}

// TipEvent is one audit-log entry for an attempted micro-tip rail credit.
type TipEvent struct {
	Org      string    `json:"org"`
	User     string    `json:"user"`
	Rail     Rail      `json:"rail,omitempty"`
	Amount   uint64    `json:"amount"`
	RepDelta int64     `json:"rep_delta"`
	OK       bool      `json:"ok"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

// PayoutEvent aggregates one rail's total for a whole payout cycle.
type PayoutEvent struct {
	Org     string    `json:"org"`
	Rail    Rail      `json:"rail"`
	Total   uint64    `json:"total"`
	Members int       `json:"members"`
	At      time.Time `json:"at"`
}

// PayoutReport is returned by a payout-cycle run.
type PayoutReport struct {
	Org      string          `json:"org"`
	Ran      bool            `json:"ran"`
	Members  int             `json:"members"`
	Credited map[Rail]uint64 `json:"credited,omitempty"`
	NextDue  time.Time       `json:"next_due"`
}

// ComplianceRecord is the per-(org,user) KYC flag and tag set. Absence of a
// record is treated as non-compliant.
type ComplianceRecord struct {
	KYCVerified bool     `json:"kyc_verified"`
	Tags        []string `json:"tags,omitempty"`
}

// DepositAddress is a deterministic per-(org, optional user, rail) address.
type DepositAddress struct {
	Org       string    `json:"org"`
	User      string    `json:"user,omitempty"`
	Rail      Rail      `json:"rail"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

// Deposit is one inbound reconciliation record. CkMinted and Credited gate
// crediting exactly once across repeated reconciliation runs.
type Deposit struct {
	ID         string    `json:"id"`
	Org        string    `json:"org"`
	User       string    `json:"user,omitempty"`
	Rail       Rail      `json:"rail"`
	Amount     uint64    `json:"amount"`
	TxRef      string    `json:"tx_ref,omitempty"`
	CkMinted   bool      `json:"ck_minted"`
	Credited   bool      `json:"credited"`
	ReceivedAt time.Time `json:"received_at"`
}

// WithdrawRequest moves funds out to an external destination. An empty User
// withdraws from the org vault (admin surface); otherwise the user's
// sub-balance funds the movement.
type WithdrawRequest struct {
	Org         string `json:"org"`
	User        string `json:"user,omitempty"`
	Rail        Rail   `json:"rail"`
	Amount      uint64 `json:"amount"`
	Destination string `json:"destination"`
	Memo        string `json:"memo,omitempty"`
}

// WithdrawResult reports how a withdrawal settled. ICP settles inline and
// carries the ledger block height; bridged rails carry the conversion-intent
// ID and its status after submission.
type WithdrawResult struct {
	Rail     Rail         `json:"rail"`
	Amount   uint64       `json:"amount"`
	Height   uint64       `json:"height,omitempty"`
	IntentID string       `json:"intent_id,omitempty"`
	Status   IntentStatus `json:"status,omitempty"`
	TxID     string       `json:"txid,omitempty"`
}

// Controllers records the factory-level administrative principals.
type Controllers struct {
	Admin      string `json:"admin,omitempty"`
	Factory    string `json:"factory,omitempty"`
	Governance string `json:"governance,omitempty"`
}
