package testutil

import (
	"net/http"

	id "steward/pkg/domain"
	"steward/pkg/requestcontext"
)

// WithPrincipal attaches an authenticated principal to the request context.
// This simulates what the auth middleware does for authenticated requests.
func WithPrincipal(req *http.Request, p id.Principal) *http.Request {
	return req.WithContext(requestcontext.WithPrincipal(req.Context(), p))
}

// WithTenantOverride attaches an administrator tenant override.
func WithTenantOverride(req *http.Request, tenantID id.TenantID) *http.Request {
	return req.WithContext(requestcontext.WithTenantOverride(req.Context(), tenantID))
}
