package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"steward/internal/approval"
	"steward/internal/audit"
	"steward/internal/docstore"
	dErrors "steward/pkg/domain-errors"
	"steward/pkg/platform/httputil"
)

// auditQuery reads the audit filters from the query string.
func auditQuery(r *http.Request) (audit.Query, error) {
	v := r.URL.Query()
	q := audit.Query{
		EntityType: v.Get("entityType"),
		EntityID:   v.Get("entityId"),
		UserID:     v.Get("userId"),
		Action:     audit.Action(v.Get("action")),
	}
	if raw := v.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return audit.Query{}, dErrors.New(dErrors.CodeBadRequest, "limit must be a non-negative integer")
		}
		q.Limit = limit
	}
	return q, nil
}

func (h *Handler) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	q, err := auditQuery(r)
	if err != nil {
		h.fail(w, r, "list audit log", err)
		return
	}
	entries, err := h.service.AuditLog(r.Context(), p, q)
	if err != nil {
		h.fail(w, r, "list audit log", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAuditLog(entries))
}

func (h *Handler) handleStreamAudit(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	q, err := auditQuery(r)
	if err != nil {
		h.fail(w, r, "stream audit log", err)
		return
	}
	serveSnapshots(h, w, r, "stream audit log",
		func(ctx context.Context, fn func([]audit.Entry)) (docstore.Unsubscribe, error) {
			return h.service.SubscribeAuditLog(ctx, p, q, fn)
		},
		func(entries []audit.Entry) any { return toAuditLog(entries) },
	)
}

func (h *Handler) handleStreamRecords(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	entityType := chi.URLParam(r, "entityType")
	serveSnapshots(h, w, r, "stream records",
		func(ctx context.Context, fn func([]approval.Record)) (docstore.Unsubscribe, error) {
			return h.service.Subscribe(ctx, p, entityType, fn)
		},
		func(records []approval.Record) any { return toRecordList(records) },
	)
}
