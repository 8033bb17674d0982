package treasury

import (
	"slices"

	"treasury/internal/model"
)

// isCompliantLocked consults the org's compliance rule before any outbound
// value movement. An org requiring neither KYC nor tag membership accepts
// every user; otherwise a missing compliance record fails closed.
func (e *Engine) isCompliantLocked(org *model.OrgAccount, user string) bool {
	rule := org.Config.Compliance
	if !rule.RequireKYC && len(rule.TagWhitelist) == 0 {
		return true
	}
	rec, ok := e.state.Compliance[UserKey{Org: org.ID, User: user}]
	if !ok {
		return false
	}
	if rule.RequireKYC && !rec.KYCVerified {
		return false
	}
	if len(rule.TagWhitelist) > 0 && !tagsIntersect(rec.Tags, rule.TagWhitelist) {
		return false
	}
	return true
}

func tagsIntersect(have, want []string) bool {
	for _, t := range have {
		if slices.Contains(want, t) {
			return true
		}
	}
	return false
}

// IsCompliant is the read-only gate exposed to collaborators.
func (e *Engine) IsCompliant(org, user string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	acct, err := e.orgLocked(org)
	if err != nil {
		return false
	}
	return e.isCompliantLocked(acct, user)
}
