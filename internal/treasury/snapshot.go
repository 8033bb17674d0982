package treasury

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"treasury/internal/model"
	"treasury/internal/store"
)

// Snapshot kinds. Every mutable index maps to one kind; composite keys join
// their parts with "|" (IDs are principals/UUIDs and never contain it).
const (
	kindControllers = "controllers"
	kindOrg         = "org"
	kindVault       = "vault"
	kindUserBalance = "user_balance"
	kindWindow      = "spend_window"
	kindIntent      = "intent"
	kindCompliance  = "compliance"
	kindDepositAddr = "deposit_addr"
	kindDeposit     = "deposit"
	kindFactory     = "factory_vault"
	kindPrice       = "price"
	kindTipLog      = "tip_log"
	kindPayoutLog   = "payout_log"
)

// Export serializes every index into the flat pair representation, sorted by
// (kind, key) so snapshots are byte-deterministic.
func (s *State) Export() ([]store.Pair, error) {
	var pairs []store.Pair
	add := func(kind, key string, v any) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("snapshot %s/%s: %w", kind, key, err)
		}
		pairs = append(pairs, store.Pair{Kind: kind, Key: key, Value: raw})
		return nil
	}

	if err := add(kindControllers, "", s.Controllers); err != nil {
		return nil, err
	}
	for id, org := range s.Orgs {
		if err := add(kindOrg, id, org); err != nil {
			return nil, err
		}
	}
	for org, v := range s.Vaults {
		if err := add(kindVault, org, v); err != nil {
			return nil, err
		}
	}
	for k, v := range s.Users {
		if err := add(kindUserBalance, k.Org+"|"+k.User, v); err != nil {
			return nil, err
		}
	}
	for org, w := range s.Windows {
		if err := add(kindWindow, org, w); err != nil {
			return nil, err
		}
	}
	for id, in := range s.Intents {
		if err := add(kindIntent, id, in); err != nil {
			return nil, err
		}
	}
	for k, c := range s.Compliance {
		if err := add(kindCompliance, k.Org+"|"+k.User, c); err != nil {
			return nil, err
		}
	}
	for k, a := range s.DepositAddrs {
		if err := add(kindDepositAddr, k.Org+"|"+k.User+"|"+string(k.Rail), a); err != nil {
			return nil, err
		}
	}
	for id, d := range s.Deposits {
		if err := add(kindDeposit, id, d); err != nil {
			return nil, err
		}
	}
	if err := add(kindFactory, "", s.FactoryVault); err != nil {
		return nil, err
	}
	for rail, p := range s.Prices {
		if err := add(kindPrice, string(rail), p); err != nil {
			return nil, err
		}
	}
	for i, ev := range s.TipLog.Items() {
		if err := add(kindTipLog, fmt.Sprintf("%012d", i), ev); err != nil {
			return nil, err
		}
	}
	for i, ev := range s.PayoutLog.Items() {
		if err := add(kindPayoutLog, fmt.Sprintf("%012d", i), ev); err != nil {
			return nil, err
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Kind != pairs[j].Kind {
			return pairs[i].Kind < pairs[j].Kind
		}
		return pairs[i].Key < pairs[j].Key
	})
	return pairs, nil
}

// RestoreState rebuilds the live indices from a flat snapshot. Log entries
// are re-appended in key order so the ring positions survive the round trip.
func RestoreState(pairs []store.Pair, auditCap int) (*State, error) {
	s := NewState(auditCap)

	sorted := make([]store.Pair, len(pairs))
	copy(sorted, pairs)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Kind != sorted[j].Kind {
			return sorted[i].Kind < sorted[j].Kind
		}
		return sorted[i].Key < sorted[j].Key
	})

	for _, p := range sorted {
		switch p.Kind {
		case kindControllers:
			if err := json.Unmarshal(p.Value, &s.Controllers); err != nil {
				return nil, restoreErr(p, err)
			}
		case kindOrg:
			var org model.OrgAccount
			if err := json.Unmarshal(p.Value, &org); err != nil {
				return nil, restoreErr(p, err)
			}
			s.Orgs[p.Key] = &org
		case kindVault:
			v := make(map[model.Rail]uint64)
			if err := json.Unmarshal(p.Value, &v); err != nil {
				return nil, restoreErr(p, err)
			}
			s.Vaults[p.Key] = v
		case kindUserBalance:
			org, user, ok := strings.Cut(p.Key, "|")
			if !ok {
				return nil, restoreErr(p, fmt.Errorf("malformed key"))
			}
			v := make(map[model.Rail]uint64)
			if err := json.Unmarshal(p.Value, &v); err != nil {
				return nil, restoreErr(p, err)
			}
			s.Users[UserKey{Org: org, User: user}] = v
		case kindWindow:
			var w model.SpendWindow
			if err := json.Unmarshal(p.Value, &w); err != nil {
				return nil, restoreErr(p, err)
			}
			s.Windows[p.Key] = &w
		case kindIntent:
			var in model.ConversionIntent
			if err := json.Unmarshal(p.Value, &in); err != nil {
				return nil, restoreErr(p, err)
			}
			s.Intents[p.Key] = &in
		case kindCompliance:
			org, user, ok := strings.Cut(p.Key, "|")
			if !ok {
				return nil, restoreErr(p, fmt.Errorf("malformed key"))
			}
			var c model.ComplianceRecord
			if err := json.Unmarshal(p.Value, &c); err != nil {
				return nil, restoreErr(p, err)
			}
			s.Compliance[UserKey{Org: org, User: user}] = c
		case kindDepositAddr:
			parts := strings.Split(p.Key, "|")
			if len(parts) != 3 {
				return nil, restoreErr(p, fmt.Errorf("malformed key"))
			}
			var a model.DepositAddress
			if err := json.Unmarshal(p.Value, &a); err != nil {
				return nil, restoreErr(p, err)
			}
			s.DepositAddrs[AddrKey{Org: parts[0], User: parts[1], Rail: model.Rail(parts[2])}] = a
		case kindDeposit:
			var d model.Deposit
			if err := json.Unmarshal(p.Value, &d); err != nil {
				return nil, restoreErr(p, err)
			}
			s.Deposits[p.Key] = &d
		case kindFactory:
			v := make(map[model.Rail]uint64)
			if err := json.Unmarshal(p.Value, &v); err != nil {
				return nil, restoreErr(p, err)
			}
			s.FactoryVault = v
		case kindPrice:
			var d decimal.Decimal
			if err := json.Unmarshal(p.Value, &d); err != nil {
				return nil, restoreErr(p, err)
			}
			s.Prices[model.Rail(p.Key)] = d
		case kindTipLog:
			var ev model.TipEvent
			if err := json.Unmarshal(p.Value, &ev); err != nil {
				return nil, restoreErr(p, err)
			}
			s.TipLog.Append(ev)
		case kindPayoutLog:
			var ev model.PayoutEvent
			if err := json.Unmarshal(p.Value, &ev); err != nil {
				return nil, restoreErr(p, err)
			}
			s.PayoutLog.Append(ev)
		default:
			return nil, fmt.Errorf("restore: unknown snapshot kind %q", p.Kind)
		}
	}
	return s, nil
}

func restoreErr(p store.Pair, err error) error {
	return fmt.Errorf("restore %s/%s: %w", p.Kind, p.Key, err)
}
