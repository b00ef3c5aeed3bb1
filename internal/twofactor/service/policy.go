package service

import (
	"strings"

	"github.com/aussiebroadwan/twofactor/internal/twofactor/domain"
)

// Policy decides whether a role must pass two-factor before a gated action.
type Policy struct {
	enforced map[string]struct{}
}

// NewPolicy builds a policy enforcing two-factor for roles. Role names are
// matched case-insensitively; blank entries are ignored.
func NewPolicy(roles []string) *Policy {
	p := &Policy{enforced: make(map[string]struct{}, len(roles))}
	for _, r := range roles {
		if r = normalizeRole(r); r != "" {
			p.enforced[r] = struct{}{}
		}
	}
	return p
}

// Enforced reports whether role is on the allow-list.
func (p *Policy) Enforced(role string) bool {
	_, ok := p.enforced[normalizeRole(role)]
	return ok
}

// RequiresStepUp tells the caller whether to block, and if so which flow
// to send the user to.
func (p *Policy) RequiresStepUp(role string, enabled, sessionVerified bool) domain.StepUpDecision {
	switch {
	case !p.Enforced(role):
		return domain.StepUpDecision{}
	case !enabled:
		return domain.StepUpDecision{Blocked: true, Reason: domain.StepUpSetupRequired}
	case !sessionVerified:
		return domain.StepUpDecision{Blocked: true, Reason: domain.StepUpVerifyRequired}
	default:
		return domain.StepUpDecision{}
	}
}

func normalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
