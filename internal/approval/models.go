// Package approval implements the maker-checker workflow every governed record
// moves through: a maker proposes, a different checker decides.
package approval

import (
	"sort"

	"steward/internal/docstore"
	id "steward/pkg/domain"
	dErrors "steward/pkg/domain-errors"
)

// Status is the approval state of a record.
type Status string

const (
	StatusPending  Status = "Pending"
	StatusApproved Status = "Approved"
	StatusRejected Status = "Rejected"
)

// IsValid checks if the status is one of the supported enum values.
func (s Status) IsValid() bool {
	return s == StatusPending || s == StatusApproved || s == StatusRejected
}

func (s Status) String() string { return string(s) }

// Stored workflow fields. Everything else on a record document is business
// data.
const (
	fieldTenantID         = "tenantId"
	fieldStatus           = "status"
	fieldMakerName        = "makerName"
	fieldMakerEmail       = "makerEmail"
	fieldMakerTimestamp   = "makerTimestamp"
	fieldCheckerName      = "checkerName"
	fieldCheckerEmail     = "checkerEmail"
	fieldCheckerTimestamp = "checkerTimestamp"
	fieldLastModifiedBy   = "lastModifiedBy"
	fieldLastModifiedAt   = "lastModifiedAt"
	fieldID               = "id"
)

var workflowFields = map[string]struct{}{
	fieldID:               {},
	fieldTenantID:         {},
	fieldStatus:           {},
	fieldMakerName:        {},
	fieldMakerEmail:       {},
	fieldMakerTimestamp:   {},
	fieldCheckerName:      {},
	fieldCheckerEmail:     {},
	fieldCheckerTimestamp: {},
	fieldLastModifiedBy:   {},
	fieldLastModifiedAt:   {},
}

// IsWorkflowField reports whether key is managed by the workflow rather than
// supplied by users.
func IsWorkflowField(key string) bool {
	_, ok := workflowFields[key]
	return ok
}

// BusinessFields returns a copy of fields without workflow-managed keys.
func BusinessFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if !IsWorkflowField(k) {
			out[k] = v
		}
	}
	return out
}

// Record is a governed record: business fields plus the approval trail.
//
// Invariants:
//   - Status is Pending on create and after every edit.
//   - Checker fields are set only by an approve or reject, and the checker is
//     never the maker.
//   - Timestamps are epoch milliseconds assigned by the store.
type Record struct {
	ID       id.RecordID
	TenantID id.TenantID
	Fields   map[string]any
	Status   Status

	MakerName      string
	MakerEmail     string
	MakerTimestamp int64

	CheckerName      string
	CheckerEmail     string
	CheckerTimestamp int64

	LastModifiedBy string
	LastModifiedAt int64
}

// Tenant returns the owning tenant; records stored without one belong to
// id.DefaultTenant.
func (r Record) Tenant() id.TenantID {
	return r.TenantID.OrDefault()
}

// IsPending reports whether the record awaits a decision.
func (r *Record) IsPending() bool {
	return r.Status == StatusPending
}

// CanWrite checks whether actor may create, edit or delete records.
func CanWrite(actor id.Principal) error {
	switch actor.Role {
	case id.RoleMaker, id.RoleAdministrator:
		return nil
	default:
		return dErrors.New(dErrors.CodeGuardViolation, "insufficient role")
	}
}

// canDecideRole reports whether role may approve or reject.
func canDecideRole(role id.Role) bool {
	return role == id.RoleChecker || role == id.RoleAdministrator
}

// CanApprove checks the segregation-of-duties guard for approval.
func (r *Record) CanApprove(actor id.Principal) error {
	if id.SameIdentity(actor.Email, r.MakerEmail) {
		return dErrors.New(dErrors.CodeGuardViolation, "cannot approve your own change")
	}
	return r.canDecide(actor)
}

// CanReject checks the segregation-of-duties guard for rejection.
func (r *Record) CanReject(actor id.Principal) error {
	if id.SameIdentity(actor.Email, r.MakerEmail) {
		return dErrors.New(dErrors.CodeGuardViolation, "cannot reject your own change")
	}
	return r.canDecide(actor)
}

func (r *Record) canDecide(actor id.Principal) error {
	if !canDecideRole(actor.Role) {
		return dErrors.New(dErrors.CodeGuardViolation, "insufficient role")
	}
	if !r.IsPending() {
		return dErrors.New(dErrors.CodeGuardViolation, "record is not pending approval")
	}
	return nil
}

// CanEdit checks whether actor may edit this record. Any status can be edited;
// editing reopens the record.
func (r *Record) CanEdit(actor id.Principal) error {
	return CanWrite(actor)
}

// CanDelete checks whether actor may delete this record.
func (r *Record) CanDelete(actor id.Principal) error {
	return CanWrite(actor)
}

// creationDocument is the full document written on create.
func creationDocument(actor id.Principal, tenant id.TenantID, fields map[string]any) map[string]any {
	doc := BusinessFields(fields)
	if tenant != "" {
		doc[fieldTenantID] = string(tenant)
	}
	doc[fieldStatus] = string(StatusPending)
	doc[fieldMakerName] = actor.Name
	doc[fieldMakerEmail] = actor.Email
	doc[fieldMakerTimestamp] = docstore.ServerTimestamp
	doc[fieldLastModifiedBy] = actor.Email
	doc[fieldLastModifiedAt] = docstore.ServerTimestamp
	return doc
}

// editPatch replaces the business fields and reopens the record. The editor
// becomes the maker; fields dropped by the edit are nulled. Checker fields are
// left as they were and are meaningful only while the status is decided.
func (r *Record) editPatch(actor id.Principal, fields map[string]any) map[string]any {
	patch := BusinessFields(fields)
	for k := range r.Fields {
		if _, kept := patch[k]; !kept {
			patch[k] = nil
		}
	}
	patch[fieldStatus] = string(StatusPending)
	patch[fieldMakerName] = actor.Name
	patch[fieldMakerEmail] = actor.Email
	patch[fieldMakerTimestamp] = docstore.ServerTimestamp
	patch[fieldLastModifiedBy] = actor.Email
	patch[fieldLastModifiedAt] = docstore.ServerTimestamp
	return patch
}

// decisionPatch records a checker decision.
func decisionPatch(actor id.Principal, status Status) map[string]any {
	return map[string]any{
		fieldStatus:           string(status),
		fieldCheckerName:      actor.Name,
		fieldCheckerEmail:     actor.Email,
		fieldCheckerTimestamp: docstore.ServerTimestamp,
		fieldLastModifiedBy:   actor.Email,
		fieldLastModifiedAt:   docstore.ServerTimestamp,
	}
}

// Document renders the record as its API shape: business fields, workflow
// fields and the id.
func (r *Record) Document() map[string]any {
	doc := make(map[string]any, len(r.Fields)+len(workflowFields))
	for k, v := range r.Fields {
		doc[k] = v
	}
	doc[fieldID] = string(r.ID)
	doc[fieldTenantID] = string(r.Tenant())
	doc[fieldStatus] = string(r.Status)
	doc[fieldMakerName] = r.MakerName
	doc[fieldMakerEmail] = r.MakerEmail
	doc[fieldMakerTimestamp] = r.MakerTimestamp
	doc[fieldLastModifiedBy] = r.LastModifiedBy
	doc[fieldLastModifiedAt] = r.LastModifiedAt
	if r.CheckerEmail != "" {
		doc[fieldCheckerName] = r.CheckerName
		doc[fieldCheckerEmail] = r.CheckerEmail
		doc[fieldCheckerTimestamp] = r.CheckerTimestamp
	}
	return doc
}

// decodeRecord maps a stored document onto a Record. Null business fields are
// treated as absent.
func decodeRecord(key string, raw any) (Record, bool) {
	doc, ok := raw.(map[string]any)
	if !ok {
		return Record{}, false
	}
	r := Record{
		ID:     id.RecordID(key),
		Fields: make(map[string]any, len(doc)),
	}
	for k, v := range doc {
		switch k {
		case fieldTenantID:
			r.TenantID = id.TenantID(asString(v))
		case fieldStatus:
			r.Status = Status(asString(v))
		case fieldMakerName:
			r.MakerName = asString(v)
		case fieldMakerEmail:
			r.MakerEmail = asString(v)
		case fieldMakerTimestamp:
			r.MakerTimestamp = asMillis(v)
		case fieldCheckerName:
			r.CheckerName = asString(v)
		case fieldCheckerEmail:
			r.CheckerEmail = asString(v)
		case fieldCheckerTimestamp:
			r.CheckerTimestamp = asMillis(v)
		case fieldLastModifiedBy:
			r.LastModifiedBy = asString(v)
		case fieldLastModifiedAt:
			r.LastModifiedAt = asMillis(v)
		case fieldID:
		default:
			if v != nil {
				r.Fields[k] = v
			}
		}
	}
	if !r.Status.IsValid() {
		r.Status = StatusPending
	}
	return r, true
}

// decodeCollection decodes every record under a collection snapshot, ordered
// by id.
func decodeCollection(raw any) []Record {
	docs, _ := raw.(map[string]any)
	out := make([]Record, 0, len(docs))
	for key, doc := range docs {
		if r, ok := decodeRecord(key, doc); ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asMillis(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int64:
		return t
	case int:
		return int64(t)
	default:
		return 0
	}
}
