// Package auth turns a bearer token into the acting principal.
package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	id "steward/pkg/domain"
	request "steward/pkg/platform/middleware/request"
	"steward/pkg/requestcontext"
)

// HeaderTenantOverride lets an Administrator view another tenant. The access
// gate ignores it for everyone else.
const HeaderTenantOverride = "X-Tenant-Override"

// PrincipalValidator defines the interface for validating bearer tokens
type PrincipalValidator interface {
	ValidateToken(tokenString string) (*id.Principal, error)
}

// writeJSONError writes a JSON error response with the given status code and error details.
func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireAuth validates the bearer token and stores the principal, and any
// tenant override, in the request context.
func RequireAuth(validator PrincipalValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", request.GetRequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			principal, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", request.GetRequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			ctx = requestcontext.WithPrincipal(ctx, *principal)
			if raw := r.Header.Get(HeaderTenantOverride); raw != "" {
				override, err := id.ParseTenantID(raw)
				if err != nil {
					writeJSONError(w, http.StatusBadRequest, "invalid_input", "invalid tenant override")
					return
				}
				ctx = requestcontext.WithTenantOverride(ctx, override)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
