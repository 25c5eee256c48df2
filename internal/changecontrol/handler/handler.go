// Package handler exposes change control over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"steward/internal/approval"
	"steward/internal/audit"
	"steward/internal/catalog"
	"steward/internal/docstore"
	"steward/internal/platform/metrics"
	id "steward/pkg/domain"
	dErrors "steward/pkg/domain-errors"
	"steward/pkg/platform/httputil"
	"steward/pkg/platform/middleware/admin"
	"steward/pkg/requestcontext"
)

// Service defines the change-control operations the handler needs.
type Service interface {
	Catalog() []catalog.Descriptor

	Get(ctx context.Context, actor id.Principal, entityType string, recordID id.RecordID) (*approval.Record, error)
	List(ctx context.Context, actor id.Principal, entityType string) ([]approval.Record, error)
	Subscribe(ctx context.Context, actor id.Principal, entityType string, fn func([]approval.Record)) (docstore.Unsubscribe, error)
	Create(ctx context.Context, actor id.Principal, entityType string, fields map[string]any) (*approval.Record, error)
	Edit(ctx context.Context, actor id.Principal, entityType string, recordID id.RecordID, fields map[string]any) (*approval.Record, error)
	Approve(ctx context.Context, actor id.Principal, entityType string, recordID id.RecordID) (*approval.Record, error)
	Reject(ctx context.Context, actor id.Principal, entityType string, recordID id.RecordID) (*approval.Record, error)
	Delete(ctx context.Context, actor id.Principal, entityType string, recordID id.RecordID) error
	Initialize(ctx context.Context, actor id.Principal, entityType string, seeds []map[string]any) ([]approval.Record, error)

	AuditLog(ctx context.Context, actor id.Principal, q audit.Query) ([]audit.Entry, error)
	SubscribeAuditLog(ctx context.Context, actor id.Principal, q audit.Query, fn func([]audit.Entry)) (docstore.Unsubscribe, error)

	RecordLogin(ctx context.Context, actor id.Principal) (id.AuditEntryID, error)
	RecordLogout(ctx context.Context, actor id.Principal) (id.AuditEntryID, error)

	VisibleDomains(actor id.Principal) []id.Domain
	CurrentDomain(actor id.Principal) id.Domain
	Navigate(ctx context.Context, actor id.Principal, d id.Domain) (id.Domain, error)
}

// Handler handles change-control endpoints.
type Handler struct {
	service Service
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a new change-control Handler.
func New(service Service, logger *slog.Logger, m *metrics.Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger, metrics: m}
}

// Register registers the API routes. Callers install authentication first.
func (h *Handler) Register(r chi.Router) {
	r.Get("/catalog", h.handleCatalog)

	r.Route("/records/{entityType}", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Get("/stream", h.handleStreamRecords)
		r.Get("/{recordID}", h.handleGet)
		r.Put("/{recordID}", h.handleEdit)
		r.Delete("/{recordID}", h.handleDelete)
		r.Post("/{recordID}/approve", h.handleApprove)
		r.Post("/{recordID}/reject", h.handleReject)
	})

	r.Group(func(r chi.Router) {
		r.Use(admin.RequireAdministrator(h.logger))
		r.Post("/admin/records/{entityType}/initialize", h.handleInitialize)
	})

	r.Get("/audit", h.handleAuditLog)
	r.Get("/audit/stream", h.handleStreamAudit)

	r.Post("/session/login", h.handleLogin)
	r.Post("/session/logout", h.handleLogout)

	r.Get("/domains", h.handleDomains)
	r.Get("/navigation", h.handleDomains)
	r.Post("/navigation", h.handleNavigate)
}

// principal returns the authenticated principal, writing an error when the
// auth middleware did not run.
func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (id.Principal, bool) {
	ctx := r.Context()
	p, ok := requestcontext.Principal(ctx)
	if !ok {
		h.logger.ErrorContext(ctx, "principal missing from context despite auth middleware",
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return id.Principal{}, false
	}
	return p, true
}

// fail writes err, logging server-side failures and guard refusals.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	switch code := dErrors.CodeOf(err); code {
	case dErrors.CodeInternal, dErrors.CodeUnavailable:
		h.logger.ErrorContext(ctx, op+" failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	case dErrors.CodeGuardViolation:
		h.logger.WarnContext(ctx, op+" refused",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	httputil.WriteError(w, err)
}

func recordIDParam(r *http.Request) (id.RecordID, error) {
	return id.ParseRecordID(chi.URLParam(r, "recordID"))
}
