// Package access decides which tenants and console domains a principal can
// reach.
package access

import (
	"context"
	"log/slog"
	"slices"

	id "steward/pkg/domain"
	dErrors "steward/pkg/domain-errors"
)

// TenantOwned is anything partitioned by tenant.
type TenantOwned interface {
	// Tenant returns the owning tenant, with records that carry none mapped
	// onto id.DefaultTenant.
	Tenant() id.TenantID
}

// Gate applies tenant and domain scoping. It holds no per-principal state.
type Gate struct {
	logger *slog.Logger
}

// Option configures the Gate.
type Option func(*Gate)

// WithLogger sets the logger for denied-access warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New creates a Gate.
func New(opts ...Option) *Gate {
	g := &Gate{logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ResolveEffectiveTenant returns override when p is an Administrator and the
// override is set, otherwise p's own tenant. Overrides from anyone else are
// ignored rather than refused.
func (g *Gate) ResolveEffectiveTenant(p id.Principal, override id.TenantID) id.TenantID {
	if p.Role.IsAdministrator() && override != "" {
		return override
	}
	return p.TenantID.OrDefault()
}

// CanAccessDomain reports whether d is in p's allowed domains, or p is an
// Administrator.
func (g *Gate) CanAccessDomain(p id.Principal, d id.Domain) bool {
	return p.Role.IsAdministrator() || p.HasDomain(d)
}

// RequireDomain is CanAccessDomain as a guard: a denial is logged and returned
// as a guard violation.
func (g *Gate) RequireDomain(ctx context.Context, p id.Principal, d id.Domain) error {
	if g.CanAccessDomain(p, d) {
		return nil
	}
	g.logger.WarnContext(ctx, "domain access denied",
		"user_id", p.UserID(),
		"role", p.Role,
		"domain", d,
	)
	return dErrors.New(dErrors.CodeGuardViolation, "access to "+string(d)+" is not allowed")
}

// RequireTenant refuses access to a record outside the effective tenant.
func (g *Gate) RequireTenant(ctx context.Context, p id.Principal, effective id.TenantID, record TenantOwned) error {
	if record.Tenant() == effective.OrDefault() {
		return nil
	}
	g.logger.WarnContext(ctx, "tenant access denied",
		"user_id", p.UserID(),
		"tenant_id", effective,
		"record_tenant_id", record.Tenant(),
	)
	return dErrors.New(dErrors.CodeGuardViolation, "record belongs to another tenant")
}

// VisibleDomains filters all down to the domains p can reach, keeping order.
func (g *Gate) VisibleDomains(p id.Principal, all []id.Domain) []id.Domain {
	out := make([]id.Domain, 0, len(all))
	for _, d := range all {
		if g.CanAccessDomain(p, d) {
			out = append(out, d)
		}
	}
	return out
}

// ScopedQuery keeps the records owned by tenant. Records without a tenant
// belong to id.DefaultTenant.
func ScopedQuery[T TenantOwned](records []T, tenant id.TenantID) []T {
	tenant = tenant.OrDefault()
	return slices.DeleteFunc(slices.Clone(records), func(r T) bool {
		return r.Tenant() != tenant
	})
}
