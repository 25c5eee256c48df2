package domain

import (
	"slices"
	"strings"

	dErrors "steward/pkg/domain-errors"
)

// Principal is the acting user as supplied by the identity provider.
// It is immutable for the lifetime of a session and is passed explicitly into
// every change-control call; nothing reads it from ambient state.
type Principal struct {
	Email          string   `json:"email"`
	Name           string   `json:"name"`
	Role           Role     `json:"role"`
	TenantID       TenantID `json:"tenantId"`
	AllowedDomains []Domain `json:"allowedDomains"`
	DefaultDomain  Domain   `json:"defaultDomain"`
}

// NewPrincipal validates identity claims and builds a Principal.
// The email doubles as the unique user id, so it is compared case-insensitively.
func NewPrincipal(email, name string, role Role, tenantID TenantID, allowed []Domain, defaultDomain Domain) (*Principal, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "principal email is required")
	}
	if !role.IsValid() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "principal role is invalid")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = email
	}
	return &Principal{
		Email:          email,
		Name:           name,
		Role:           role,
		TenantID:       tenantID.OrDefault(),
		AllowedDomains: slices.Clone(allowed),
		DefaultDomain:  defaultDomain,
	}, nil
}

// UserID is the stable identifier written into audit entries.
func (p *Principal) UserID() string {
	return p.Email
}

// HasDomain reports plain membership, without the administrator bypass.
func (p *Principal) HasDomain(d Domain) bool {
	return slices.Contains(p.AllowedDomains, d)
}

// SameIdentity compares principals by email, the identity used for
// segregation of duties.
func SameIdentity(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
