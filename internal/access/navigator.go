package access

import (
	"context"
	"strings"
	"sync"

	id "steward/pkg/domain"
)

// Navigator tracks the console domain each user is currently in.
type Navigator struct {
	gate    *Gate
	domains []id.Domain

	mu      sync.RWMutex
	current map[string]id.Domain
}

// NewNavigator creates a Navigator over the console's domains, in menu order.
func NewNavigator(gate *Gate, domains []id.Domain) *Navigator {
	if gate == nil {
		gate = New()
	}
	return &Navigator{
		gate:    gate,
		domains: domains,
		current: make(map[string]id.Domain),
	}
}

// Current returns p's domain: the last successful switch, else the default
// domain when reachable, else the first visible domain. It returns "" when p
// can reach nothing.
func (n *Navigator) Current(p id.Principal) id.Domain {
	n.mu.RLock()
	d, ok := n.current[userKey(p)]
	n.mu.RUnlock()
	if ok && n.gate.CanAccessDomain(p, d) {
		return d
	}
	if p.DefaultDomain != "" && n.gate.CanAccessDomain(p, p.DefaultDomain) {
		return p.DefaultDomain
	}
	if visible := n.gate.VisibleDomains(p, n.domains); len(visible) > 0 {
		return visible[0]
	}
	return ""
}

// Switch moves p to d. A denied switch leaves the current domain as it was and
// returns it alongside the guard violation.
func (n *Navigator) Switch(ctx context.Context, p id.Principal, d id.Domain) (id.Domain, error) {
	if err := n.gate.RequireDomain(ctx, p, d); err != nil {
		return n.Current(p), err
	}
	n.mu.Lock()
	n.current[userKey(p)] = d
	n.mu.Unlock()
	return d, nil
}

// Forget drops p's navigation state, as on logout.
func (n *Navigator) Forget(p id.Principal) {
	n.mu.Lock()
	delete(n.current, userKey(p))
	n.mu.Unlock()
}

func userKey(p id.Principal) string {
	return strings.ToLower(p.Email)
}
