package handler

import (
	"net/http"

	id "steward/pkg/domain"
	"steward/pkg/platform/httputil"
)

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	auditID, err := h.service.RecordLogin(r.Context(), p)
	if err != nil {
		h.fail(w, r, "record login", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, sessionResponse{AuditID: auditID})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	auditID, err := h.service.RecordLogout(r.Context(), p)
	if err != nil {
		h.fail(w, r, "record logout", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, sessionResponse{AuditID: auditID})
}

func (h *Handler) handleDomains(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, domainsResponse{
		Domains: h.service.VisibleDomains(p),
		Current: h.service.CurrentDomain(p),
	})
}

// handleNavigate switches the caller's current domain. A refused switch
// leaves the current domain unchanged.
func (h *Handler) handleNavigate(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req navigateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "navigate", err)
		return
	}
	d, err := id.ParseDomain(req.Domain)
	if err != nil {
		h.fail(w, r, "navigate", err)
		return
	}
	if _, err := h.service.Navigate(r.Context(), p, d); err != nil {
		h.fail(w, r, "navigate", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, domainsResponse{
		Domains: h.service.VisibleDomains(p),
		Current: h.service.CurrentDomain(p),
	})
}
