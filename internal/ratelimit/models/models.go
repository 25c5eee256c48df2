// Package models holds the rate limiting result and response shapes.
package models

import (
	"math"
	"time"
)

// Policy bounds how many requests a key may make inside a sliding window.
// A zero Limit disables limiting.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Enabled reports whether the policy limits anything.
func (p Policy) Enabled() bool {
	return p.Limit > 0 && p.Window > 0
}

// Result is the outcome of one rate limit check.
type Result struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
}

// Denied builds a refused result, deriving RetryAfter from resetAt.
func Denied(limit int, resetAt, now time.Time) *Result {
	retry := int(math.Ceil(resetAt.Sub(now).Seconds()))
	if retry < 1 {
		retry = 1
	}
	return &Result{
		Allowed:    false,
		Limit:      limit,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: retry,
	}
}

// MutationKey is the bucket key for one principal's writes.
func MutationKey(userID string) string {
	return "ratelimit:mutations:" + userID
}

// ExceededResponse is the API response when a principal exceeds its quota.
type ExceededResponse struct {
	Error            string    `json:"error"`
	ErrorDescription string    `json:"error_description"`
	QuotaLimit       int       `json:"quota_limit"`
	QuotaReset       time.Time `json:"quota_reset"`
	RetryAfter       int       `json:"retry_after"`
}
