package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks AuditRecorder,AuditReader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"steward/internal/approval"
	"steward/internal/audit"
	"steward/internal/catalog"
	"steward/internal/changecontrol/metrics"
	"steward/internal/changecontrol/service/mocks"
	"steward/internal/diff"
	"steward/internal/docstore/memory"
	id "steward/pkg/domain"
	dErrors "steward/pkg/domain-errors"
	"steward/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	ctx     context.Context
	clock   time.Time
	store   *memory.Store
	catalog *catalog.Catalog
	reader  *audit.Reader
	metrics *metrics.Metrics
	service *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

var (
	alice = id.Principal{Email: "alice@x", Name: "Alice", Role: id.RoleMaker, TenantID: "acme",
		AllowedDomains: []id.Domain{catalog.DomainPricing, catalog.DomainServices}, DefaultDomain: catalog.DomainPricing}
	bob = id.Principal{Email: "bob@x", Name: "Bob", Role: id.RoleChecker, TenantID: "acme",
		AllowedDomains: []id.Domain{catalog.DomainPricing, catalog.DomainServices, catalog.DomainAudit}}
	fxMaker = id.Principal{Email: "fx@x", Name: "Fx", Role: id.RoleMaker, TenantID: "acme",
		AllowedDomains: []id.Domain{catalog.DomainFX}, DefaultDomain: catalog.DomainFX}
	admin = id.Principal{Email: "root@x", Name: "Root", Role: id.RoleAdministrator, TenantID: "acme"}
	gus   = id.Principal{Email: "gus@x", Name: "Gus", Role: id.RoleMaker, TenantID: "globex",
		AllowedDomains: []id.Domain{catalog.DomainServices}}
)

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = time.UnixMilli(1_700_000_000_000)
	s.store = memory.New(
		memory.WithClock(func() time.Time { return s.clock }),
		memory.WithAppendOnly(audit.DefaultPath),
	)
	var err error
	s.catalog, err = catalog.New(catalog.Defaults()...)
	s.Require().NoError(err)
	s.reader, err = audit.NewReader(s.store)
	s.Require().NoError(err)
	s.metrics = metrics.New(prometheus.NewRegistry())

	recorder, err := audit.NewRecorder(s.store)
	s.Require().NoError(err)
	s.service = s.newService(recorder)
}

func (s *ServiceSuite) newService(recorder AuditRecorder, opts ...Option) *Service {
	opts = append([]Option{WithAuditReader(s.reader), WithMetrics(s.metrics)}, opts...)
	svc, err := New(s.store, s.catalog, recorder, opts...)
	s.Require().NoError(err)
	return svc
}

func (s *ServiceSuite) auditEntries() []audit.Entry {
	entries, err := s.reader.List(s.ctx, audit.Query{})
	s.Require().NoError(err)
	return entries
}

func (s *ServiceSuite) requireCode(err error, code dErrors.Code) {
	s.Require().Error(err)
	s.Equal(code, dErrors.CodeOf(err), "unexpected error: %v", err)
}

func (s *ServiceSuite) TestNew() {
	recorder, err := audit.NewRecorder(s.store)
	s.Require().NoError(err)

	_, err = New(nil, s.catalog, recorder)
	s.ErrorContains(err, "record store is required")
	_, err = New(s.store, nil, recorder)
	s.ErrorContains(err, "catalog is required")
	_, err = New(s.store, s.catalog, nil)
	s.ErrorContains(err, "audit recorder is required")
}

// TestApprovalLifecycle walks a pricing rule through create, approve, a refused
// self-approval and an edit that reopens it.
func (s *ServiceSuite) TestApprovalLifecycle() {
	// Maker creates a pricing rule.
	rec, err := s.service.Create(s.ctx, alice, "pricing", map[string]any{"name": "base", "rate": 2.50})
	s.Require().NoError(err)
	s.Equal(approval.StatusPending, rec.Status)

	entries := s.auditEntries()
	s.Require().Len(entries, 1)
	s.Equal(audit.ActionCreate, entries[0].Action)
	s.Equal("pricing", entries[0].EntityType)
	s.Equal(string(rec.ID), entries[0].EntityID)
	s.Equal("base", entries[0].EntityName)
	s.Equal("alice@x", entries[0].UserID)

	// A different checker approves.
	s.clock = s.clock.Add(time.Minute)
	approved, err := s.service.Approve(s.ctx, bob, "pricing", rec.ID)
	s.Require().NoError(err)
	s.Equal(approval.StatusApproved, approved.Status)
	s.Equal("bob@x", approved.CheckerEmail)

	entries = s.auditEntries()
	s.Require().Len(entries, 2)
	s.Equal(audit.ActionApprove, entries[0].Action)
	s.Equal(map[string]any{"previousStatus": "Pending", "newStatus": "Approved"}, entries[0].Metadata)
	s.Empty(entries[0].Changes)

	// The maker edits the approved rule; it reopens with the rate diff.
	s.clock = s.clock.Add(time.Minute)
	edited, err := s.service.Edit(s.ctx, alice, "pricing", rec.ID, map[string]any{"name": "base", "rate": 3.00})
	s.Require().NoError(err)
	s.Equal(approval.StatusPending, edited.Status)
	s.Equal("alice@x", edited.MakerEmail)

	entries = s.auditEntries()
	s.Require().Len(entries, 3)
	s.Equal(audit.ActionUpdate, entries[0].Action)
	s.Equal([]diff.Change{{Field: "rate", OldValue: 2.5, NewValue: 3.0}}, entries[0].Changes)
}

func (s *ServiceSuite) TestSelfApprovalIsRefusedWithoutAudit() {
	rec, err := s.service.Create(s.ctx, alice, "pricing", map[string]any{"name": "base", "rate": 2.5})
	s.Require().NoError(err)
	before := len(s.auditEntries())

	selfChecker := alice
	selfChecker.Role = id.RoleChecker
	_, err = s.service.Approve(s.ctx, selfChecker, "pricing", rec.ID)
	s.requireCode(err, dErrors.CodeGuardViolation)
	s.ErrorContains(err, "cannot approve your own change")

	stored, err := s.service.Get(s.ctx, alice, "pricing", rec.ID)
	s.Require().NoError(err)
	s.Equal(approval.StatusPending, stored.Status)
	s.Len(s.auditEntries(), before)
	s.Equal(1.0, promtest.ToFloat64(s.metrics.GuardViolations.WithLabelValues("approve")))
}

func (s *ServiceSuite) TestDomainGate() {
	s.Run("fx maker cannot reach pricing records", func() {
		_, err := s.service.Create(s.ctx, fxMaker, "pricing", map[string]any{"name": "x", "rate": 1})
		s.requireCode(err, dErrors.CodeGuardViolation)
		_, err = s.service.List(s.ctx, fxMaker, "pricing")
		s.requireCode(err, dErrors.CodeGuardViolation)
		s.Empty(s.auditEntries())
	})

	s.Run("fx maker cannot navigate to admin", func() {
		current, err := s.service.Navigate(s.ctx, fxMaker, catalog.DomainAdmin)
		s.requireCode(err, dErrors.CodeGuardViolation)
		s.Equal(catalog.DomainFX, current)
		s.Equal(catalog.DomainFX, s.service.CurrentDomain(fxMaker))
		s.Equal([]id.Domain{catalog.DomainFX}, s.service.VisibleDomains(fxMaker))
	})

	s.Run("administrators bypass domain membership but not self-approval", func() {
		rec, err := s.service.Create(s.ctx, admin, "fxPricing", map[string]any{"baseCurrency": "EUR", "quoteCurrency": "USD", "rate": 1.08})
		s.Require().NoError(err)
		_, err = s.service.Approve(s.ctx, admin, "fxPricing", rec.ID)
		s.requireCode(err, dErrors.CodeGuardViolation)
		s.Len(s.service.VisibleDomains(admin), len(catalog.AllDomains()))
	})

	s.Run("unknown entity type", func() {
		_, err := s.service.List(s.ctx, admin, "invoice")
		s.requireCode(err, dErrors.CodeNotFound)
	})

	s.Run("anonymous callers are refused", func() {
		_, err := s.service.List(s.ctx, id.Principal{}, "pricing")
		s.requireCode(err, dErrors.CodeUnauthorized)
	})
}

func (s *ServiceSuite) TestTenantScoping() {
	acmeSvc, err := s.service.Create(s.ctx, alice, "service", map[string]any{"name": "delivery"})
	s.Require().NoError(err)
	s.Equal(id.TenantID("acme"), acmeSvc.TenantID)
	_, err = s.service.Create(s.ctx, gus, "service", map[string]any{"name": "pickup"})
	s.Require().NoError(err)

	// A legacy record written without a tenant belongs to the default tenant.
	_, err = s.store.Push(s.ctx, "services", map[string]any{"name": "legacy", "status": "Approved"})
	s.Require().NoError(err)

	list, err := s.service.List(s.ctx, gus, "service")
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal("pickup", list[0].Fields["name"])

	_, err = s.service.Get(s.ctx, gus, "service", acmeSvc.ID)
	s.requireCode(err, dErrors.CodeGuardViolation)
	_, err = s.service.Edit(s.ctx, gus, "service", acmeSvc.ID, map[string]any{"name": "stolen"})
	s.requireCode(err, dErrors.CodeGuardViolation)

	// Administrators can look into another tenant through an override.
	overrideCtx := requestcontext.WithTenantOverride(s.ctx, id.DefaultTenant)
	list, err = s.service.List(overrideCtx, admin, "service")
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal("legacy", list[0].Fields["name"])

	// Overrides from anyone else are ignored.
	list, err = s.service.List(requestcontext.WithTenantOverride(s.ctx, "globex"), alice, "service")
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal("delivery", list[0].Fields["name"])

	// Global entity types are not filtered.
	_, err = s.service.Create(s.ctx, admin, "reference", map[string]any{"category": "currency", "code": "EUR"})
	s.Require().NoError(err)
	refs, err := s.service.List(s.ctx, admin, "reference")
	s.Require().NoError(err)
	s.Len(refs, 1)
}

func (s *ServiceSuite) TestAuditLogIsTenantScoped() {
	_, err := s.service.Create(s.ctx, gus, "service", map[string]any{"name": "globex-secret", "price": 99})
	s.Require().NoError(err)
	acmeSvc, err := s.service.Create(s.ctx, alice, "service", map[string]any{"name": "delivery"})
	s.Require().NoError(err)
	_, err = s.service.Approve(s.ctx, bob, "service", acmeSvc.ID)
	s.Require().NoError(err)
	_, err = s.service.Create(s.ctx, alice, "pricing", map[string]any{"name": "base", "rate": 1})
	s.Require().NoError(err)

	s.Run("entries about another tenant's records are hidden", func() {
		entries, err := s.service.AuditLog(s.ctx, bob, audit.Query{EntityType: "service"})
		s.Require().NoError(err)
		s.Require().Len(entries, 2)
		for _, e := range entries {
			s.Equal("delivery", e.EntityName)
			s.Equal("acme", e.Metadata[audit.MetadataTenantID])
		}
		s.Equal("Approved", entries[0].Metadata["newStatus"])
	})

	s.Run("global entity types are not filtered", func() {
		entries, err := s.service.AuditLog(s.ctx, bob, audit.Query{})
		s.Require().NoError(err)
		s.Len(entries, 3)
		s.Equal("pricing", entries[0].EntityType)
		s.NotContains(entries[0].Metadata, audit.MetadataTenantID)
	})

	s.Run("a non-administrator override is ignored", func() {
		ctx := requestcontext.WithTenantOverride(s.ctx, "globex")
		entries, err := s.service.AuditLog(ctx, bob, audit.Query{EntityType: "service"})
		s.Require().NoError(err)
		s.Len(entries, 2)
	})

	s.Run("administrators read another tenant through an override", func() {
		ctx := requestcontext.WithTenantOverride(s.ctx, "globex")
		entries, err := s.service.AuditLog(ctx, admin, audit.Query{EntityType: "service"})
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal("globex-secret", entries[0].EntityName)
		s.Equal("gus@x", entries[0].UserID)
	})

	s.Run("streams are scoped the same way", func() {
		var latest []audit.Entry
		unsubscribe, err := s.service.SubscribeAuditLog(s.ctx, bob, audit.Query{EntityType: "service"}, func(entries []audit.Entry) {
			latest = entries
		})
		s.Require().NoError(err)
		defer unsubscribe()
		s.Len(latest, 2)

		_, err = s.service.Create(s.ctx, gus, "service", map[string]any{"name": "pickup"})
		s.Require().NoError(err)
		s.Len(latest, 2)
	})
}

func (s *ServiceSuite) TestValidation() {
	_, err := s.service.Create(s.ctx, alice, "pricing", map[string]any{"name": "base"})
	s.requireCode(err, dErrors.CodeValidation)
	s.Empty(s.auditEntries())
	s.Equal(1.0, promtest.ToFloat64(s.metrics.ValidationErrors.WithLabelValues("pricing")))
}

func (s *ServiceSuite) TestRejectAndDelete() {
	rec, err := s.service.Create(s.ctx, alice, "pricing", map[string]any{"name": "base", "rate": 1})
	s.Require().NoError(err)

	rejected, err := s.service.Reject(s.ctx, bob, "pricing", rec.ID)
	s.Require().NoError(err)
	s.Equal(approval.StatusRejected, rejected.Status)

	s.Require().NoError(s.service.Delete(s.ctx, alice, "pricing", rec.ID))
	_, err = s.service.Get(s.ctx, alice, "pricing", rec.ID)
	s.requireCode(err, dErrors.CodeNotFound)

	entries := s.auditEntries()
	s.Require().Len(entries, 3)
	s.Equal(audit.ActionDelete, entries[0].Action)
	s.Equal("base", entries[0].EntityName)
	s.Empty(entries[0].Changes)
	s.Equal(audit.ActionReject, entries[1].Action)
	s.Equal(map[string]any{"previousStatus": "Pending", "newStatus": "Rejected"}, entries[1].Metadata)
}

func (s *ServiceSuite) TestEditReopensRejectedRecord() {
	rec, err := s.service.Create(s.ctx, alice, "pricing", map[string]any{"name": "base", "rate": 1})
	s.Require().NoError(err)
	s.clock = s.clock.Add(time.Minute)
	rejected, err := s.service.Reject(s.ctx, bob, "pricing", rec.ID)
	s.Require().NoError(err)

	editor := id.Principal{Email: "carol@x", Name: "Carol", Role: id.RoleMaker, TenantID: "acme",
		AllowedDomains: []id.Domain{catalog.DomainPricing}}
	s.clock = s.clock.Add(time.Minute)
	edited, err := s.service.Edit(s.ctx, editor, "pricing", rec.ID, map[string]any{"name": "base", "rate": 1.5})
	s.Require().NoError(err)

	s.Equal(approval.StatusPending, edited.Status)
	s.Equal("carol@x", edited.MakerEmail)
	s.Equal("Carol", edited.MakerName)
	s.Equal(s.clock.UnixMilli(), edited.MakerTimestamp)
	s.Equal("bob@x", edited.CheckerEmail, "checker fields are left as stale history")
	s.Equal(rejected.CheckerTimestamp, edited.CheckerTimestamp)

	entries := s.auditEntries()
	s.Require().Len(entries, 3)
	s.Equal(audit.ActionUpdate, entries[0].Action)
	s.Equal("carol@x", entries[0].UserID)
	s.Equal([]diff.Change{{Field: "rate", OldValue: 1.0, NewValue: 1.5}}, entries[0].Changes)

	// Reopened, it can be decided again, even by the earlier checker.
	approved, err := s.service.Approve(s.ctx, bob, "pricing", rec.ID)
	s.Require().NoError(err)
	s.Equal(approval.StatusApproved, approved.Status)
}

func (s *ServiceSuite) TestTypesRegisteredAfterNewAreUnknown() {
	err := s.catalog.Register(catalog.Descriptor{
		EntityType: "holiday", StorePath: "holidays", Domain: catalog.DomainReference, RequiredFields: []string{"date"},
	})
	s.Require().NoError(err)

	_, err = s.service.Create(s.ctx, admin, "holiday", map[string]any{"date": "2026-12-25"})
	s.requireCode(err, dErrors.CodeNotFound)
	_, err = s.service.List(s.ctx, admin, "holiday")
	s.requireCode(err, dErrors.CodeNotFound)
}

func (s *ServiceSuite) TestInitialize() {
	seeds := []map[string]any{
		{"name": "north", "city": "Oslo"},
		{"name": "south", "city": "Bergen"},
	}
	records, err := s.service.Initialize(s.ctx, admin, "zone", seeds)
	s.Require().NoError(err)
	s.Len(records, 2)
	for _, r := range records {
		s.Equal(approval.StatusPending, r.Status)
		s.Equal("root@x", r.MakerEmail)
	}

	entries := s.auditEntries()
	s.Require().Len(entries, 1)
	s.Equal(audit.ActionInitialize, entries[0].Action)
	s.Equal(map[string]any{"count": float64(2)}, entries[0].Metadata)
	s.Empty(entries[0].Changes)

	_, err = s.service.Initialize(s.ctx, admin, "zone", []map[string]any{{"name": "x", "city": "y"}, {"name": "bad"}})
	s.requireCode(err, dErrors.CodeValidation)
	list, err := s.service.List(s.ctx, admin, "zone")
	s.Require().NoError(err)
	s.Len(list, 2, "no seed is written when any seed is invalid")

	_, err = s.service.Initialize(s.ctx, admin, "zone", nil)
	s.requireCode(err, dErrors.CodeValidation)
}

func (s *ServiceSuite) TestBestEffortAudit() {
	ctrl := gomock.NewController(s.T())
	recorder := mocks.NewMockAuditRecorder(ctrl)
	svc := s.newService(recorder)

	recorder.EXPECT().Record(gomock.Any(), gomock.Any()).
		Return(id.AuditEntryID(""), dErrors.New(dErrors.CodeUnavailable, "audit store unavailable"))

	rec, err := svc.Create(s.ctx, alice, "pricing", map[string]any{"name": "base", "rate": 1})
	s.Require().NoError(err, "the record write stands when only the audit write fails")

	stored, err := svc.Get(s.ctx, alice, "pricing", rec.ID)
	s.Require().NoError(err)
	s.Equal(rec.ID, stored.ID)
	s.Equal(1.0, promtest.ToFloat64(s.metrics.AuditFailures.WithLabelValues("create")))
}

func (s *ServiceSuite) TestAtomicAudit() {
	ctrl := gomock.NewController(s.T())
	recorder := mocks.NewMockAuditRecorder(ctrl)
	svc := s.newService(recorder, WithAtomicAudit(s.store))

	s.Run("audit failure rolls the record back", func() {
		recorder.EXPECT().Record(gomock.Any(), gomock.Any()).
			Return(id.AuditEntryID(""), dErrors.New(dErrors.CodeUnavailable, "audit store unavailable"))

		_, err := svc.Create(s.ctx, alice, "pricing", map[string]any{"name": "base", "rate": 1})
		s.requireCode(err, dErrors.CodeUnavailable)

		list, err := svc.List(s.ctx, alice, "pricing")
		s.Require().NoError(err)
		s.Empty(list)
	})

	s.Run("record and audit commit together", func() {
		recorder.EXPECT().Record(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, in audit.Input) (id.AuditEntryID, error) {
				s.Equal(audit.ActionCreate, in.Action)
				return "a1", nil
			})

		rec, err := svc.Create(s.ctx, alice, "pricing", map[string]any{"name": "base", "rate": 1})
		s.Require().NoError(err)
		s.NotEmpty(rec.ID)
	})

	s.Run("uncoded store errors surface as unavailable", func() {
		recorder.EXPECT().Record(gomock.Any(), gomock.Any()).Return(id.AuditEntryID(""), errors.New("boom"))
		_, err := svc.Create(s.ctx, alice, "pricing", map[string]any{"name": "other", "rate": 1})
		s.requireCode(err, dErrors.CodeUnavailable)
	})
}

func (s *ServiceSuite) TestSubscribe() {
	var snapshots [][]approval.Record
	unsubscribe, err := s.service.Subscribe(s.ctx, gus, "service", func(records []approval.Record) {
		snapshots = append(snapshots, records)
	})
	s.Require().NoError(err)

	_, err = s.service.Create(s.ctx, alice, "service", map[string]any{"name": "delivery"})
	s.Require().NoError(err)
	_, err = s.service.Create(s.ctx, gus, "service", map[string]any{"name": "pickup"})
	s.Require().NoError(err)

	unsubscribe()
	_, err = s.service.Create(s.ctx, gus, "service", map[string]any{"name": "late"})
	s.Require().NoError(err)

	s.Require().Len(snapshots, 3)
	s.Empty(snapshots[0])
	s.Empty(snapshots[1], "other tenants' records are filtered out")
	s.Require().Len(snapshots[2], 1)
	s.Equal("pickup", snapshots[2][0].Fields["name"])

	_, err = s.service.Subscribe(s.ctx, fxMaker, "service", func([]approval.Record) {})
	s.requireCode(err, dErrors.CodeGuardViolation)
}

func (s *ServiceSuite) TestSessionAudit() {
	ctx := requestcontext.WithClientMetadata(s.ctx, "10.0.0.1",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	ctx = requestcontext.WithRequestID(ctx, "req-1")

	_, err := s.service.RecordLogin(ctx, bob)
	s.Require().NoError(err)
	s.clock = s.clock.Add(time.Second)
	_, err = s.service.RecordLogout(ctx, bob)
	s.Require().NoError(err)

	entries, err := s.service.AuditLog(s.ctx, bob, audit.Query{EntityType: audit.EntityTypeSession})
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Equal(audit.ActionLogout, entries[0].Action)
	s.Equal(audit.ActionLogin, entries[1].Action)
	s.Empty(entries[1].Changes)
	s.Equal("10.0.0.1", entries[1].Metadata["ip"])
	s.Equal("req-1", entries[1].Metadata["requestId"])
	s.Equal("desktop", entries[1].Metadata["device"])
	s.Contains(entries[1].Metadata["browser"], "Chrome")
	s.Contains(entries[1].Metadata["os"], "Linux")

	_, err = s.service.AuditLog(s.ctx, alice, audit.Query{})
	s.requireCode(err, dErrors.CodeGuardViolation)
}

func (s *ServiceSuite) TestAuditImmutability() {
	_, err := s.service.Create(s.ctx, alice, "pricing", map[string]any{"name": "base", "rate": 1})
	s.Require().NoError(err)
	entries := s.auditEntries()
	s.Require().Len(entries, 1)

	path := audit.DefaultPath + "/" + string(entries[0].ID)
	s.Error(s.store.Update(s.ctx, path, map[string]any{"action": "approve"}))
	s.Error(s.store.Remove(s.ctx, path))
	s.Error(s.store.Remove(s.ctx, audit.DefaultPath))
	s.Len(s.auditEntries(), 1)
}
