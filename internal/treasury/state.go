package treasury

import (
	"github.com/shopspring/decimal"

	"treasury/internal/model"
)

// UserKey addresses a per-(org, user) record.
type UserKey struct {
	Org  string
	User string
}

// AddrKey addresses a deposit address. User may be empty for org-level
// addresses.
type AddrKey struct {
	Org  string
	User string
	Rail model.Rail
}

// State holds every mutable treasury index. It is owned by exactly one
// Engine and mutated only under its lock; tests may construct and inspect it
// directly.
//
// User balances are sparse: a rail entry is removed when it reaches zero and
// the user entry is removed when its last rail goes, so iteration and
// snapshot costs stay proportional to active entries.
type State struct {
	Controllers  model.Controllers
	Orgs         map[string]*model.OrgAccount
	Vaults       map[string]map[model.Rail]uint64
	Users        map[UserKey]map[model.Rail]uint64
	Windows      map[string]*model.SpendWindow
	Intents      map[string]*model.ConversionIntent
	Compliance   map[UserKey]model.ComplianceRecord
	DepositAddrs map[AddrKey]model.DepositAddress
	Deposits     map[string]*model.Deposit
	FactoryVault map[model.Rail]uint64
	Prices       map[model.Rail]decimal.Decimal
	TipLog       *RingLog[model.TipEvent]
	PayoutLog    *RingLog[model.PayoutEvent]
}

func NewState(auditCap int) *State {
	return &State{
		Orgs:         make(map[string]*model.OrgAccount),
		Vaults:       make(map[string]map[model.Rail]uint64),
		Users:        make(map[UserKey]map[model.Rail]uint64),
		Windows:      make(map[string]*model.SpendWindow),
		Intents:      make(map[string]*model.ConversionIntent),
		Compliance:   make(map[UserKey]model.ComplianceRecord),
		DepositAddrs: make(map[AddrKey]model.DepositAddress),
		Deposits:     make(map[string]*model.Deposit),
		FactoryVault: make(map[model.Rail]uint64),
		Prices:       make(map[model.Rail]decimal.Decimal),
		TipLog:       NewRingLog[model.TipEvent](auditCap),
		PayoutLog:    NewRingLog[model.PayoutEvent](auditCap),
	}
}

// vault returns the org's vault map, creating it on first use.
func (s *State) vault(org string) map[model.Rail]uint64 {
	v, ok := s.Vaults[org]
	if !ok {
		v = make(map[model.Rail]uint64)
		s.Vaults[org] = v
	}
	return v
}

func (s *State) creditUserBalance(org, user string, rail model.Rail, amount uint64) {
	k := UserKey{Org: org, User: user}
	m, ok := s.Users[k]
	if !ok {
		m = make(map[model.Rail]uint64)
		s.Users[k] = m
	}
	m[rail] += amount
}

// debitUserBalance removes the rail entry at zero and the user entry when
// empty. Returns false without mutation when the balance is short.
func (s *State) debitUserBalance(org, user string, rail model.Rail, amount uint64) bool {
	k := UserKey{Org: org, User: user}
	m, ok := s.Users[k]
	if !ok || m[rail] < amount {
		return false
	}
	m[rail] -= amount
	if m[rail] == 0 {
		delete(m, rail)
	}
	if len(m) == 0 {
		delete(s.Users, k)
	}
	return true
}
