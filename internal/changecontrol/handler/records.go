package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"steward/internal/approval"
	id "steward/pkg/domain"
	"steward/pkg/platform/httputil"
)

func (h *Handler) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.principal(w, r); !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toCatalogResponse(h.service.Catalog()))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	records, err := h.service.List(r.Context(), p, chi.URLParam(r, "entityType"))
	if err != nil {
		h.fail(w, r, "list records", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordList(records))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	recordID, err := recordIDParam(r)
	if err != nil {
		h.fail(w, r, "get record", err)
		return
	}
	rec, err := h.service.Get(r.Context(), p, chi.URLParam(r, "entityType"), recordID)
	if err != nil {
		h.fail(w, r, "get record", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec.Document())
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var fields map[string]any
	if err := httputil.DecodeJSON(r, &fields); err != nil {
		h.fail(w, r, "create record", err)
		return
	}
	rec, err := h.service.Create(r.Context(), p, chi.URLParam(r, "entityType"), fields)
	if err != nil {
		h.fail(w, r, "create record", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, rec.Document())
}

func (h *Handler) handleEdit(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	recordID, err := recordIDParam(r)
	if err != nil {
		h.fail(w, r, "edit record", err)
		return
	}
	var fields map[string]any
	if err := httputil.DecodeJSON(r, &fields); err != nil {
		h.fail(w, r, "edit record", err)
		return
	}
	rec, err := h.service.Edit(r.Context(), p, chi.URLParam(r, "entityType"), recordID, fields)
	if err != nil {
		h.fail(w, r, "edit record", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec.Document())
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.handleDecision(w, r, "approve record", h.service.Approve)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.handleDecision(w, r, "reject record", h.service.Reject)
}

type decisionFunc func(ctx context.Context, actor id.Principal, entityType string, recordID id.RecordID) (*approval.Record, error)

func (h *Handler) handleDecision(w http.ResponseWriter, r *http.Request, op string, decide decisionFunc) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	recordID, err := recordIDParam(r)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	rec, err := decide(r.Context(), p, chi.URLParam(r, "entityType"), recordID)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec.Document())
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	recordID, err := recordIDParam(r)
	if err != nil {
		h.fail(w, r, "delete record", err)
		return
	}
	if err := h.service.Delete(r.Context(), p, chi.URLParam(r, "entityType"), recordID); err != nil {
		h.fail(w, r, "delete record", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleInitialize(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req initializeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "initialize records", err)
		return
	}
	records, err := h.service.Initialize(r.Context(), p, chi.URLParam(r, "entityType"), req.Records)
	if err != nil {
		h.fail(w, r, "initialize records", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toRecordList(records))
}
