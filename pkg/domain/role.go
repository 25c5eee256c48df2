package domain

import dErrors "steward/pkg/domain-errors"

// Role is the authority a principal acts with.
// Invariant: the value must be one of the supported roles.
//
// Usage: construct via ParseRole at trust boundaries to enforce the
// allowlist; direct casting bypasses validation.
type Role string

// Supported roles. Role and domain membership are administered outside this
// system; a principal carries exactly one role per session.
const (
	RoleMaker         Role = "Maker"
	RoleChecker       Role = "Checker"
	RoleApprover      Role = "Approver"
	RoleAdministrator Role = "Administrator"
)

// validRoles is the single source of truth for valid roles.
var validRoles = map[Role]bool{
	RoleMaker:         true,
	RoleChecker:       true,
	RoleApprover:      true,
	RoleAdministrator: true,
}

// ParseRole constructs a Role from external input (token claims, headers).
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported; no
// other errors are expected.
func ParseRole(s string) (Role, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "role cannot be empty")
	}
	r := Role(s)
	if !r.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid role")
	}
	return r, nil
}

// IsValid checks if the role is one of the supported enum values.
func (r Role) IsValid() bool {
	return validRoles[r]
}

// IsAdministrator reports whether the role bypasses domain membership checks.
func (r Role) IsAdministrator() bool {
	return r == RoleAdministrator
}

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}
