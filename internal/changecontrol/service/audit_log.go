package service

import (
	"context"

	"steward/internal/audit"
	"steward/internal/catalog"
	"steward/internal/docstore"
	id "steward/pkg/domain"
	dErrors "steward/pkg/domain-errors"
)

// AuditLog lists audit entries, newest first. Reading the log needs the audit
// domain; entries about tenant-scoped records are limited to the actor's
// effective tenant.
func (s *Service) AuditLog(ctx context.Context, actor id.Principal, q audit.Query) (entries []audit.Entry, err error) {
	ctx, done := s.begin(ctx, "audit_log", q.EntityType)
	defer func() { done(err) }()

	if err := s.requireAuditAccess(ctx, actor); err != nil {
		return nil, err
	}
	return s.reader.List(ctx, s.scopeAuditQuery(ctx, actor, q))
}

// SubscribeAuditLog streams matching audit entries, newest first.
func (s *Service) SubscribeAuditLog(ctx context.Context, actor id.Principal, q audit.Query, fn func([]audit.Entry)) (docstore.Unsubscribe, error) {
	if err := s.requireAuditAccess(ctx, actor); err != nil {
		return nil, err
	}
	return s.reader.Subscribe(ctx, s.scopeAuditQuery(ctx, actor, q), fn)
}

func (s *Service) scopeAuditQuery(ctx context.Context, actor id.Principal, q audit.Query) audit.Query {
	q.Tenant = s.effectiveTenant(ctx, actor)
	q.TenantScoped = nil
	for _, desc := range s.catalog.All() {
		if desc.TenantScoped {
			q.TenantScoped = append(q.TenantScoped, desc.EntityType)
		}
	}
	return q
}

func (s *Service) requireAuditAccess(ctx context.Context, actor id.Principal) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if s.reader == nil {
		return dErrors.New(dErrors.CodeInternal, "audit log is not readable")
	}
	return s.gate.RequireDomain(ctx, actor, catalog.DomainAudit)
}
