// Package service is the change-control façade: every record mutation passes
// the access gate, the approval guards and validation before it is written,
// and is then diffed and audited.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"steward/internal/access"
	"steward/internal/approval"
	"steward/internal/audit"
	"steward/internal/catalog"
	"steward/internal/changecontrol/metrics"
	"steward/internal/diff"
	"steward/internal/docstore"
	id "steward/pkg/domain"
	dErrors "steward/pkg/domain-errors"
	"steward/pkg/requestcontext"
)

// AuditRecorder appends audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, in audit.Input) (id.AuditEntryID, error)
}

// AuditReader lists and streams audit entries.
type AuditReader interface {
	List(ctx context.Context, q audit.Query) ([]audit.Entry, error)
	Subscribe(ctx context.Context, q audit.Query, fn func([]audit.Entry)) (docstore.Unsubscribe, error)
}

// Service orchestrates change control over every catalog entity type.
type Service struct {
	catalog   *catalog.Catalog
	machines  map[string]*approval.Machine
	gate      *access.Gate
	navigator *access.Navigator
	recorder  AuditRecorder
	reader    AuditReader
	tx        docstore.Transactor
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithGate replaces the default access gate.
func WithGate(g *access.Gate) Option {
	return func(s *Service) {
		if g != nil {
			s.gate = g
		}
	}
}

// WithAuditReader enables audit queries.
func WithAuditReader(r AuditReader) Option {
	return func(s *Service) {
		s.reader = r
	}
}

// WithAtomicAudit commits each record write together with its audit entry.
// An audit failure then aborts the mutation instead of being logged.
func WithAtomicAudit(tx docstore.Transactor) Option {
	return func(s *Service) {
		s.tx = tx
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// New creates the façade with one approval machine per catalog entry.
func New(store docstore.Store, cat *catalog.Catalog, recorder AuditRecorder, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("record store is required")
	}
	if cat == nil {
		return nil, errors.New("catalog is required")
	}
	if recorder == nil {
		return nil, errors.New("audit recorder is required")
	}

	s := &Service{
		catalog:  cat,
		machines: make(map[string]*approval.Machine),
		recorder: recorder,
		logger:   slog.Default(),
		tracer:   otel.Tracer("steward/changecontrol"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.gate == nil {
		s.gate = access.New(access.WithLogger(s.logger))
	}
	s.navigator = access.NewNavigator(s.gate, catalog.AllDomains())

	for _, desc := range cat.All() {
		m, err := approval.NewMachine(store, desc, approval.WithLogger(s.logger))
		if err != nil {
			return nil, fmt.Errorf("approval machine for %s: %w", desc.EntityType, err)
		}
		s.machines[desc.EntityType] = m
	}
	return s, nil
}

// Catalog returns the governed entity types.
func (s *Service) Catalog() []catalog.Descriptor {
	return s.catalog.All()
}

// begin starts a span and returns the function that closes it, counting refused
// operations on the way out.
func (s *Service) begin(ctx context.Context, operation, entityType string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "changecontrol."+operation,
		trace.WithAttributes(
			attribute.String("steward.operation", operation),
			attribute.String("steward.entity_type", entityType),
		),
	)
	return ctx, func(err error) {
		defer span.End()
		s.metrics.ObserveOperation(operation, start)
		if err == nil {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		switch dErrors.CodeOf(err) {
		case dErrors.CodeGuardViolation:
			s.metrics.IncrementGuardViolation(operation)
		case dErrors.CodeValidation:
			s.metrics.IncrementValidationError(entityType)
		}
	}
}

// resolve checks the actor and domain access and returns the machine for
// entityType.
func (s *Service) resolve(ctx context.Context, actor id.Principal, entityType string) (*approval.Machine, catalog.Descriptor, error) {
	if err := requireActor(actor); err != nil {
		return nil, catalog.Descriptor{}, err
	}
	desc, err := s.catalog.Lookup(entityType)
	if err != nil {
		return nil, catalog.Descriptor{}, err
	}
	if err := s.gate.RequireDomain(ctx, actor, desc.Domain); err != nil {
		return nil, catalog.Descriptor{}, err
	}
	m, ok := s.machines[desc.EntityType]
	if !ok {
		// Registered after the service was built.
		return nil, catalog.Descriptor{}, dErrors.New(dErrors.CodeNotFound, "unknown entity type")
	}
	return m, desc, nil
}

// load reads a record and checks it is inside the actor's effective tenant.
func (s *Service) load(ctx context.Context, actor id.Principal, m *approval.Machine, desc catalog.Descriptor, recordID id.RecordID) (*approval.Record, error) {
	rec, err := m.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if desc.TenantScoped {
		if err := s.gate.RequireTenant(ctx, actor, s.effectiveTenant(ctx, actor), rec); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func (s *Service) effectiveTenant(ctx context.Context, actor id.Principal) id.TenantID {
	return s.gate.ResolveEffectiveTenant(actor, requestcontext.TenantOverride(ctx))
}

// mutate runs write and audits what it reports. Without a transactor the
// audit write is best effort: the record write stands even if it fails.
func (s *Service) mutate(ctx context.Context, action audit.Action, write func(ctx context.Context) (audit.Input, error)) error {
	if s.tx != nil {
		err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
			in, err := write(txCtx)
			if err != nil {
				return err
			}
			_, err = s.recorder.Record(txCtx, in)
			return err
		})
		if err != nil {
			if _, coded := dErrors.As(err); !coded {
				return dErrors.Wrap(err, dErrors.CodeUnavailable, "record store unavailable")
			}
			return err
		}
		return nil
	}

	in, err := write(ctx)
	if err != nil {
		return err
	}
	s.recordBestEffort(ctx, in)
	return nil
}

func (s *Service) recordBestEffort(ctx context.Context, in audit.Input) {
	if _, err := s.recorder.Record(ctx, in); err != nil {
		s.metrics.IncrementAuditFailure(string(in.Action))
		s.logger.ErrorContext(ctx, "audit write failed after record write",
			"action", in.Action,
			"entity_type", in.EntityType,
			"entity_id", in.EntityID,
			"user_id", in.Actor.UserID,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
}

func (s *Service) diffOptions(desc catalog.Descriptor) []diff.Option {
	return []diff.Option{
		diff.IgnoreFields(desc.HousekeepingKeys...),
		diff.UnorderedFields(desc.UnorderedFields...),
	}
}

func requireActor(actor id.Principal) error {
	if actor.Email == "" || !actor.Role.IsValid() {
		return dErrors.New(dErrors.CodeUnauthorized, "an authenticated principal is required")
	}
	return nil
}
