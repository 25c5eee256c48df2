// Package middleware throttles record mutations per principal.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"steward/internal/ratelimit/metrics"
	"steward/internal/ratelimit/models"
	"steward/pkg/platform/httputil"
	"steward/pkg/requestcontext"
)

// BucketStore counts requests in sliding windows.
type BucketStore interface {
	Allow(ctx context.Context, key string, policy models.Policy) (*models.Result, error)
}

type Middleware struct {
	store   BucketStore
	policy  models.Policy
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Middleware)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Middleware) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Middleware) {
		m.metrics = mt
	}
}

func New(store BucketStore, policy models.Policy, opts ...Option) *Middleware {
	m := &Middleware{
		store:  store,
		policy: policy,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if !policy.Enabled() {
		m.logger.Info("mutation rate limiting disabled")
	}
	return m
}

// LimitMutations counts POST, PUT, PATCH and DELETE requests against the
// authenticated principal's quota. Reads pass through untouched. A failing
// store lets the request through. It must run after auth.RequireAuth.
func (m *Middleware) LimitMutations(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.policy.Enabled() || !isMutation(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		principal, ok := requestcontext.Principal(ctx)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		result, err := m.store.Allow(ctx, models.MutationKey(principal.UserID()), m.policy)
		if err != nil {
			m.metrics.IncrementStoreErrors()
			m.logger.ErrorContext(ctx, "failed to check mutation rate limit",
				"error", err,
				"user_id", principal.UserID(),
				"request_id", requestcontext.RequestID(ctx),
			)
			next.ServeHTTP(w, r)
			return
		}

		addRateLimitHeaders(w, result)
		if !result.Allowed {
			m.metrics.IncrementRejections()
			m.logger.WarnContext(ctx, "mutation rate limit exceeded",
				"user_id", principal.UserID(),
				"request_id", requestcontext.RequestID(ctx),
			)
			writeRateLimitExceeded(w, result)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.ExceededResponse{
		Error:            "rate_limit_exceeded",
		ErrorDescription: "You have exceeded your change quota. Please try again later.",
		QuotaLimit:       result.Limit,
		QuotaReset:       result.ResetAt,
		RetryAfter:       result.RetryAfter,
	})
}
