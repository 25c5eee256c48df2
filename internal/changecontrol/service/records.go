package service

import (
	"context"

	"steward/internal/access"
	"steward/internal/approval"
	"steward/internal/audit"
	"steward/internal/catalog"
	"steward/internal/diff"
	"steward/internal/docstore"
	id "steward/pkg/domain"
	dErrors "steward/pkg/domain-errors"
)

// Get returns one record.
func (s *Service) Get(ctx context.Context, actor id.Principal, entityType string, recordID id.RecordID) (rec *approval.Record, err error) {
	ctx, done := s.begin(ctx, "get", entityType)
	defer func() { done(err) }()

	m, desc, err := s.resolve(ctx, actor, entityType)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, actor, m, desc, recordID)
}

// List returns the records of entityType visible to actor, ordered by id.
func (s *Service) List(ctx context.Context, actor id.Principal, entityType string) (records []approval.Record, err error) {
	ctx, done := s.begin(ctx, "list", entityType)
	defer func() { done(err) }()

	m, desc, err := s.resolve(ctx, actor, entityType)
	if err != nil {
		return nil, err
	}
	records, err = m.List(ctx)
	if err != nil {
		return nil, err
	}
	if desc.TenantScoped {
		records = access.ScopedQuery(records, s.effectiveTenant(ctx, actor))
	}
	return records, nil
}

// Subscribe delivers the records of entityType visible to actor now and after
// every change, until the returned Unsubscribe is called.
func (s *Service) Subscribe(ctx context.Context, actor id.Principal, entityType string, fn func([]approval.Record)) (docstore.Unsubscribe, error) {
	m, desc, err := s.resolve(ctx, actor, entityType)
	if err != nil {
		return nil, err
	}
	tenant := s.effectiveTenant(ctx, actor)
	return m.Subscribe(ctx, func(records []approval.Record) {
		if desc.TenantScoped {
			records = access.ScopedQuery(records, tenant)
		}
		fn(records)
	})
}

// Create stores a new Pending record in actor's effective tenant and audits
// it with every field as added.
func (s *Service) Create(ctx context.Context, actor id.Principal, entityType string, fields map[string]any) (rec *approval.Record, err error) {
	ctx, done := s.begin(ctx, "create", entityType)
	defer func() { done(err) }()

	m, desc, err := s.resolve(ctx, actor, entityType)
	if err != nil {
		return nil, err
	}
	tenant := s.effectiveTenant(ctx, actor)

	err = s.mutate(ctx, audit.ActionCreate, func(ctx context.Context) (audit.Input, error) {
		created, err := m.Create(ctx, actor, tenant, fields)
		if err != nil {
			return audit.Input{}, err
		}
		rec = created
		return audit.Input{
			Actor:      audit.ActorFrom(actor),
			Action:     audit.ActionCreate,
			EntityType: desc.EntityType,
			EntityID:   string(created.ID),
			EntityName: desc.DisplayName(created.Fields),
			Changes:    diff.Diff(nil, created.Fields, s.diffOptions(desc)...),
			Metadata:   tenantMetadata(desc, created.Tenant(), nil),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementMutation(desc.EntityType, string(audit.ActionCreate))
	return rec, nil
}

// Edit replaces the business fields of a record, reopening it as Pending, and
// audits the field-level diff.
func (s *Service) Edit(ctx context.Context, actor id.Principal, entityType string, recordID id.RecordID, fields map[string]any) (rec *approval.Record, err error) {
	ctx, done := s.begin(ctx, "edit", entityType)
	defer func() { done(err) }()

	m, desc, err := s.resolve(ctx, actor, entityType)
	if err != nil {
		return nil, err
	}
	current, err := s.load(ctx, actor, m, desc, recordID)
	if err != nil {
		return nil, err
	}

	err = s.mutate(ctx, audit.ActionUpdate, func(ctx context.Context) (audit.Input, error) {
		edited, err := m.Edit(ctx, actor, current, fields)
		if err != nil {
			return audit.Input{}, err
		}
		rec = edited
		return audit.Input{
			Actor:      audit.ActorFrom(actor),
			Action:     audit.ActionUpdate,
			EntityType: desc.EntityType,
			EntityID:   string(edited.ID),
			EntityName: desc.DisplayName(edited.Fields),
			Changes:    diff.Diff(current.Fields, edited.Fields, s.diffOptions(desc)...),
			Metadata:   tenantMetadata(desc, current.Tenant(), nil),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementMutation(desc.EntityType, string(audit.ActionUpdate))
	return rec, nil
}

// Approve closes a Pending record as Approved.
func (s *Service) Approve(ctx context.Context, actor id.Principal, entityType string, recordID id.RecordID) (*approval.Record, error) {
	return s.decide(ctx, actor, entityType, recordID, audit.ActionApprove)
}

// Reject closes a Pending record as Rejected.
func (s *Service) Reject(ctx context.Context, actor id.Principal, entityType string, recordID id.RecordID) (*approval.Record, error) {
	return s.decide(ctx, actor, entityType, recordID, audit.ActionReject)
}

func (s *Service) decide(ctx context.Context, actor id.Principal, entityType string, recordID id.RecordID, action audit.Action) (rec *approval.Record, err error) {
	ctx, done := s.begin(ctx, string(action), entityType)
	defer func() { done(err) }()

	m, desc, err := s.resolve(ctx, actor, entityType)
	if err != nil {
		return nil, err
	}
	current, err := s.load(ctx, actor, m, desc, recordID)
	if err != nil {
		return nil, err
	}

	err = s.mutate(ctx, action, func(ctx context.Context) (audit.Input, error) {
		var decided *approval.Record
		var err error
		if action == audit.ActionApprove {
			decided, err = m.Approve(ctx, actor, current)
		} else {
			decided, err = m.Reject(ctx, actor, current)
		}
		if err != nil {
			return audit.Input{}, err
		}
		rec = decided
		return audit.Input{
			Actor:      audit.ActorFrom(actor),
			Action:     action,
			EntityType: desc.EntityType,
			EntityID:   string(decided.ID),
			EntityName: desc.DisplayName(decided.Fields),
			Metadata: tenantMetadata(desc, current.Tenant(), map[string]any{
				"previousStatus": string(current.Status),
				"newStatus":      string(decided.Status),
			}),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementMutation(desc.EntityType, string(action))
	return rec, nil
}

// Delete removes a record outright. The audit entry carries no diff.
func (s *Service) Delete(ctx context.Context, actor id.Principal, entityType string, recordID id.RecordID) (err error) {
	ctx, done := s.begin(ctx, "delete", entityType)
	defer func() { done(err) }()

	m, desc, err := s.resolve(ctx, actor, entityType)
	if err != nil {
		return err
	}
	current, err := s.load(ctx, actor, m, desc, recordID)
	if err != nil {
		return err
	}

	err = s.mutate(ctx, audit.ActionDelete, func(ctx context.Context) (audit.Input, error) {
		if err := m.Delete(ctx, actor, current); err != nil {
			return audit.Input{}, err
		}
		return audit.Input{
			Actor:      audit.ActorFrom(actor),
			Action:     audit.ActionDelete,
			EntityType: desc.EntityType,
			EntityID:   string(current.ID),
			EntityName: desc.DisplayName(current.Fields),
			Metadata:   tenantMetadata(desc, current.Tenant(), nil),
		}, nil
	})
	if err != nil {
		return err
	}
	s.metrics.IncrementMutation(desc.EntityType, string(audit.ActionDelete))
	return nil
}

// Initialize seeds an entity type with Pending records made by actor and
// writes a single initialize entry. Every seed is validated before anything
// is written.
func (s *Service) Initialize(ctx context.Context, actor id.Principal, entityType string, seeds []map[string]any) (records []approval.Record, err error) {
	ctx, done := s.begin(ctx, "initialize", entityType)
	defer func() { done(err) }()

	m, desc, err := s.resolve(ctx, actor, entityType)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one seed record is required")
	}
	if err := approval.CanWrite(actor); err != nil {
		return nil, err
	}
	for _, seed := range seeds {
		if err := desc.Validate(approval.BusinessFields(seed)); err != nil {
			return nil, err
		}
	}
	tenant := s.effectiveTenant(ctx, actor)

	err = s.mutate(ctx, audit.ActionInitialize, func(ctx context.Context) (audit.Input, error) {
		records = make([]approval.Record, 0, len(seeds))
		for _, seed := range seeds {
			created, err := m.Create(ctx, actor, tenant, seed)
			if err != nil {
				return audit.Input{}, err
			}
			records = append(records, *created)
		}
		return audit.Input{
			Actor:      audit.ActorFrom(actor),
			Action:     audit.ActionInitialize,
			EntityType: desc.EntityType,
			Metadata:   tenantMetadata(desc, tenant, map[string]any{"count": len(records)}),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementMutation(desc.EntityType, string(audit.ActionInitialize))
	return records, nil
}

// tenantMetadata stamps the owning tenant on entries about tenant-scoped
// records so audit reads can be partitioned like the records themselves.
func tenantMetadata(desc catalog.Descriptor, tenant id.TenantID, metadata map[string]any) map[string]any {
	if !desc.TenantScoped {
		return metadata
	}
	if metadata == nil {
		metadata = make(map[string]any, 1)
	}
	metadata[audit.MetadataTenantID] = string(tenant.OrDefault())
	return metadata
}
