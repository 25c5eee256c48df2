// Package catalog describes the governed entity types: where each lives in
// the store, which console domain owns it, and what a valid record needs.
package catalog

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	id "steward/pkg/domain"
	dErrors "steward/pkg/domain-errors"
)

// Descriptor parameterizes the approval workflow for one entity type.
type Descriptor struct {
	// EntityType is the name used in audit entries and URLs.
	EntityType string
	// StorePath is the collection path records are pushed under.
	StorePath string
	// Domain is the console domain a principal needs to reach these records.
	Domain id.Domain
	// RequiredFields must be present and non-empty on create and edit.
	RequiredFields []string
	// NameField holds the display name copied into audit entries.
	NameField string
	// TenantScoped entity types are filtered by the effective tenant on read.
	TenantScoped bool
	// UnorderedFields are set-valued; element order is not a change.
	UnorderedFields []string
	// HousekeepingKeys are excluded from diffs on top of the defaults.
	HousekeepingKeys []string
}

// Validate checks the business field names and the required fields. A name
// must be a single non-empty path segment.
func (d Descriptor) Validate(fields map[string]any) error {
	var invalid []string
	for k := range fields {
		if strings.TrimSpace(k) == "" || strings.Contains(k, "/") {
			invalid = append(invalid, fmt.Sprintf("%q", k))
		}
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("invalid field name: %s", strings.Join(invalid, ", ")))
	}

	var missing []string
	for _, f := range d.RequiredFields {
		if isBlank(fields[f]) {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("missing required field: %s", strings.Join(missing, ", ")))
	}
	return nil
}

// DisplayName returns the record's display name, or "".
func (d Descriptor) DisplayName(fields map[string]any) string {
	if d.NameField == "" {
		return ""
	}
	switch v := fields[d.NameField].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	default:
		return false
	}
}

// Console domains.
const (
	DomainPricing   id.Domain = "pricing"
	DomainFX        id.Domain = "fx"
	DomainMarketing id.Domain = "marketing"
	DomainReference id.Domain = "reference"
	DomainServices  id.Domain = "services"
	DomainZones     id.Domain = "zones"
	DomainAudit     id.Domain = "audit"
	DomainAdmin     id.Domain = "admin"
)

// Defaults lists the governed entity types of the catalog console.
func Defaults() []Descriptor {
	return []Descriptor{
		{
			EntityType:      "pricing",
			StorePath:       "pricingRules",
			Domain:          DomainPricing,
			RequiredFields:  []string{"name", "rate"},
			NameField:       "name",
			UnorderedFields: []string{"zoneIds", "serviceIds"},
		},
		{
			EntityType:     "fxPricing",
			StorePath:      "fxPricing",
			Domain:         DomainFX,
			RequiredFields: []string{"baseCurrency", "quoteCurrency", "rate"},
			NameField:      "pair",
		},
		{
			EntityType:      "campaign",
			StorePath:       "campaigns",
			Domain:          DomainMarketing,
			RequiredFields:  []string{"name", "startDate"},
			NameField:       "name",
			UnorderedFields: []string{"zoneIds", "serviceIds"},
		},
		{
			EntityType:     "reference",
			StorePath:      "referenceData",
			Domain:         DomainReference,
			RequiredFields: []string{"category", "code"},
			NameField:      "label",
		},
		{
			EntityType:      "service",
			StorePath:       "services",
			Domain:          DomainServices,
			RequiredFields:  []string{"name"},
			NameField:       "name",
			TenantScoped:    true,
			UnorderedFields: []string{"zoneIds"},
		},
		{
			EntityType:     "zone",
			StorePath:      "zones",
			Domain:         DomainZones,
			RequiredFields: []string{"name", "city"},
			NameField:      "name",
		},
	}
}

// AllDomains lists every console domain, including those without governed
// records.
func AllDomains() []id.Domain {
	return []id.Domain{
		DomainPricing, DomainFX, DomainMarketing, DomainReference,
		DomainServices, DomainZones, DomainAudit, DomainAdmin,
	}
}

// Catalog indexes descriptors by entity type.
type Catalog struct {
	mu     sync.RWMutex
	byType map[string]Descriptor
}

// New builds a catalog. Duplicate entity types or store paths are rejected.
func New(descriptors ...Descriptor) (*Catalog, error) {
	c := &Catalog{byType: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if err := c.Register(d); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register adds a descriptor.
func (c *Catalog) Register(d Descriptor) error {
	if d.EntityType == "" || d.StorePath == "" || d.Domain == "" {
		return fmt.Errorf("descriptor %q: entity type, store path and domain are required", d.EntityType)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.byType[d.EntityType]; dup {
		return fmt.Errorf("descriptor %q already registered", d.EntityType)
	}
	for _, existing := range c.byType {
		if existing.StorePath == d.StorePath {
			return fmt.Errorf("store path %q already used by %q", d.StorePath, existing.EntityType)
		}
	}
	c.byType[d.EntityType] = d
	return nil
}

// Lookup returns the descriptor for entityType.
func (c *Catalog) Lookup(entityType string) (Descriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.byType[entityType]
	if !ok {
		return Descriptor{}, dErrors.New(dErrors.CodeNotFound, "unknown entity type")
	}
	return d, nil
}

// All returns descriptors ordered by entity type.
func (c *Catalog) All() []Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Descriptor, 0, len(c.byType))
	for _, d := range c.byType {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityType < out[j].EntityType })
	return out
}
