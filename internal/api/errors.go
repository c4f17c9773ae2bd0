package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a non-2xx response from the assessment API. Detail carries the
// server's human-readable explanation when one was returned.
type Error struct {
	StatusCode int
	Detail     string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("assessment api: %s", http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("assessment api: %s (%d)", e.Detail, e.StatusCode)
}

// statusOf extracts the HTTP status from err, or 0 when err is not an API
// error (network failure, timeout, decode error).
func statusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsNotFound reports an invalid/unknown token or task index. Terminal.
func IsNotFound(err error) bool { return statusOf(err) == http.StatusNotFound }

// IsForbidden reports a consumed token or inactive assessment. Terminal.
func IsForbidden(err error) bool { return statusOf(err) == http.StatusForbidden }

// IsExpired reports an expired assessment link. Terminal.
func IsExpired(err error) bool { return statusOf(err) == http.StatusGone }

// IsTerminal reports an error the session must not retry: the server has
// definitively rejected this token.
func IsTerminal(err error) bool {
	return IsNotFound(err) || IsForbidden(err) || IsExpired(err)
}

// IsRetryable reports an error a user may manually retry: a 5xx response or
// a transport-level failure. The engine never retries these automatically
// because the underlying operations are not guaranteed idempotent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	status := statusOf(err)
	if status == 0 {
		return true
	}
	return status >= 500
}
