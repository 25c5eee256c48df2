// Package audit records who changed what in the console. Entries are appended
// to the document store and never rewritten; readers can list and stream them
// but have no way to change them.
package audit

import (
	"encoding/json"
	"fmt"

	"steward/internal/diff"
	id "steward/pkg/domain"
)

// DefaultPath is where audit entries live in the document store.
const DefaultPath = "auditLogs"

// Action names what a principal did.
type Action string

const (
	ActionCreate     Action = "create"
	ActionUpdate     Action = "update"
	ActionApprove    Action = "approve"
	ActionReject     Action = "reject"
	ActionDelete     Action = "delete"
	ActionLogin      Action = "login"
	ActionLogout     Action = "logout"
	ActionInitialize Action = "initialize"
)

// EntityTypeSession is the entity type of login and logout entries.
const EntityTypeSession = "session"

// MetadataTenantID is the metadata key carrying the owning tenant of an entry
// about a tenant-scoped record.
const MetadataTenantID = "tenantId"

// Category classifies entries for downstream routing and retention.
type Category string

const (
	// CategoryCompliance covers record mutations and approval decisions.
	CategoryCompliance Category = "compliance"
	// CategorySecurity covers authentication activity.
	CategorySecurity Category = "security"
	// CategoryOperations covers everything else.
	CategoryOperations Category = "operations"
)

var actionCategories = map[Action]Category{
	ActionCreate:     CategoryCompliance,
	ActionUpdate:     CategoryCompliance,
	ActionApprove:    CategoryCompliance,
	ActionReject:     CategoryCompliance,
	ActionDelete:     CategoryCompliance,
	ActionInitialize: CategoryCompliance,
	ActionLogin:      CategorySecurity,
	ActionLogout:     CategorySecurity,
}

// Category returns the category for this action. Unknown actions default to
// CategoryOperations.
func (a Action) Category() Category {
	if c, ok := actionCategories[a]; ok {
		return c
	}
	return CategoryOperations
}

func (a Action) String() string { return string(a) }

// Actor identifies who performed an action.
type Actor struct {
	UserID    string
	UserName  string
	UserEmail string
}

// ActorFrom derives the audit actor from a principal.
func ActorFrom(p id.Principal) Actor {
	return Actor{
		UserID:    p.UserID(),
		UserName:  p.Name,
		UserEmail: p.Email,
	}
}

// Input is what callers hand to Record. There is no timestamp: the store
// assigns one.
type Input struct {
	Actor      Actor
	Action     Action
	EntityType string
	EntityID   string
	EntityName string
	Changes    []diff.Change
	Metadata   map[string]any
}

// Entry is a recorded audit entry as readers see it.
type Entry struct {
	ID         id.AuditEntryID `json:"id"`
	Timestamp  int64           `json:"timestamp"`
	UserID     string          `json:"userId"`
	UserName   string          `json:"userName"`
	UserEmail  string          `json:"userEmail"`
	Action     Action          `json:"action"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId,omitempty"`
	EntityName string          `json:"entityName,omitempty"`
	Changes    []diff.Change   `json:"changes,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
}

// Tenant returns the tenant stamped on the entry. Entries without one belong
// to id.DefaultTenant.
func (e Entry) Tenant() id.TenantID {
	t, _ := e.Metadata[MetadataTenantID].(string)
	return id.TenantID(t).OrDefault()
}

// document builds the stored shape. Empty optional fields are omitted rather
// than written as empty values.
func (in Input) document(timestamp any) map[string]any {
	doc := map[string]any{
		"timestamp":  timestamp,
		"userId":     in.Actor.UserID,
		"userName":   in.Actor.UserName,
		"userEmail":  in.Actor.UserEmail,
		"action":     string(in.Action),
		"entityType": in.EntityType,
	}
	if in.EntityID != "" {
		doc["entityId"] = in.EntityID
	}
	if in.EntityName != "" {
		doc["entityName"] = in.EntityName
	}
	if len(in.Changes) > 0 {
		doc["changes"] = in.Changes
	}
	if len(in.Metadata) > 0 {
		doc["metadata"] = in.Metadata
	}
	return doc
}

// decodeEntry maps a stored document onto an Entry.
func decodeEntry(key string, raw any) (Entry, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return Entry{}, fmt.Errorf("encode audit entry %s: %w", key, err)
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return Entry{}, fmt.Errorf("decode audit entry %s: %w", key, err)
	}
	e.ID = id.AuditEntryID(key)
	return e, nil
}
