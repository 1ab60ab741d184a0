// Package apperr defines the error kinds surfaced at the HTTP boundary and
// the sentinel/typed-wrapper pattern the rest of the engine builds errors
// with, mirroring the teacher's internal/errors but shaped around the kinds
// spec.md §7 requires.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for simple cases; prefer the typed wrappers below when the
// HTTP boundary needs to carry structured metadata (limits, reasons).
var (
	ErrNotFound     = errors.New("resource not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInternal     = errors.New("internal error")
)

// Kind is the stable identifier returned in the `error` field of an HTTP
// error response.
type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindProjectSuspended   Kind = "project_suspended"
	KindNotFound           Kind = "not_found"
	KindMonthlyQuota       Kind = "monthly_quota_exceeded"
	KindRateLimit          Kind = "rate_limit_exceeded"
	KindInternal           Kind = "internal_error"
)

// ValidationError reports a malformed request.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error on field %q: %s", e.Field, e.Message)
}

// ForbiddenError carries a specific reason code (e.g. "project_suspended").
type ForbiddenError struct {
	Reason string
}

func (e ForbiddenError) Error() string { return e.Reason }

// QuotaExceededError carries the monthly-limit admission context.
type QuotaExceededError struct {
	Limit   int
	Current int
}

func (e QuotaExceededError) Error() string {
	return fmt.Sprintf("monthly quota exceeded: %d/%d", e.Current, e.Limit)
}

// RateLimitExceededError carries the per-minute admission context.
type RateLimitExceededError struct {
	Limit   int
	Current int
	Window  string
}

func (e RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d/%d per %s", e.Current, e.Limit, e.Window)
}

// Classify maps any error into its HTTP-facing kind and status code. Unknown
// errors classify as internal_error — the API's writeError relies on this
// so that an unrecognised error never leaks detail.
func Classify(err error) (Kind, int) {
	if err == nil {
		return "", http.StatusOK
	}

	var ve ValidationError
	if errors.As(err, &ve) {
		return KindValidation, http.StatusBadRequest
	}
	var fe ForbiddenError
	if errors.As(err, &fe) {
		if fe.Reason == "project_suspended" {
			return KindProjectSuspended, http.StatusForbidden
		}
		return KindForbidden, http.StatusForbidden
	}
	var qe QuotaExceededError
	if errors.As(err, &qe) {
		return KindMonthlyQuota, http.StatusTooManyRequests
	}
	var re RateLimitExceededError
	if errors.As(err, &re) {
		return KindRateLimit, http.StatusTooManyRequests
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound, http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized, http.StatusUnauthorized
	default:
		return KindInternal, http.StatusInternalServerError
	}
}
