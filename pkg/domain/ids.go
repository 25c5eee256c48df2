package domain

import (
	"strings"
	"unicode"

	dErrors "steward/pkg/domain-errors"
)

// maxIDLength bounds identifiers accepted at trust boundaries.
const maxIDLength = 128

// TenantID identifies an organizational data partition.
type TenantID string

// DefaultTenant owns every record that predates tenant scoping and carries no
// tenant id of its own.
const DefaultTenant TenantID = "default"

// RecordID is the store key of a governed record.
type RecordID string

// AuditEntryID is the store key of an audit entry.
type AuditEntryID string

// Domain is a named feature partition of the console surface.
type Domain string

func (t TenantID) String() string     { return string(t) }
func (t TenantID) IsNil() bool        { return t == "" }
func (r RecordID) String() string     { return string(r) }
func (r RecordID) IsNil() bool        { return r == "" }
func (a AuditEntryID) String() string { return string(a) }
func (d Domain) String() string       { return string(d) }

// OrDefault maps an empty tenant id onto DefaultTenant.
func (t TenantID) OrDefault() TenantID {
	if t == "" {
		return DefaultTenant
	}
	return t
}

// ParseTenantID validates a tenant id received from outside the process.
func ParseTenantID(s string) (TenantID, error) {
	v, err := parseKey(s, "tenant id")
	return TenantID(v), err
}

// ParseRecordID validates a record key received from outside the process.
func ParseRecordID(s string) (RecordID, error) {
	v, err := parseKey(s, "record id")
	return RecordID(v), err
}

// ParseDomain validates a domain name received from outside the process.
func ParseDomain(s string) (Domain, error) {
	v, err := parseKey(s, "domain")
	return Domain(v), err
}

// parseKey accepts identifiers that are safe to embed as a single store path
// segment: letters, digits, '-', '_', '.', '@' and nothing else.
func parseKey(s, what string) (string, error) {
	if s == "" || strings.TrimSpace(s) == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, what+" is required")
	}
	if len(s) > maxIDLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, what+" is too long")
	}
	if s == "." || s == ".." {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid "+what)
	}
	for _, r := range s {
		if r > unicode.MaxASCII {
			return "", dErrors.New(dErrors.CodeInvalidInput, "invalid "+what)
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.', r == '@':
		default:
			return "", dErrors.New(dErrors.CodeInvalidInput, "invalid "+what)
		}
	}
	return s, nil
}
