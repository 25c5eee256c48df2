package admin

import (
	"log/slog"
	"net/http"

	request "steward/pkg/platform/middleware/request"
	"steward/pkg/requestcontext"
)

// RequireAdministrator admits only principals with the Administrator role. It
// must run after auth.RequireAuth.
func RequireAdministrator(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			principal, ok := requestcontext.Principal(ctx)
			if !ok || !principal.Role.IsAdministrator() {
				logger.WarnContext(ctx, "administrator route refused",
					"user_id", principal.Email,
					"role", principal.Role,
					"request_id", request.GetRequestID(ctx),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"guard_violation","error_description":"administrator role required"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
