package instantly

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized is returned for 401/403 responses. It is fatal: the
// credential is bad and every subsequent call would fail the same way,
// so the cycle must abort instead of grinding through the ledger.
var ErrUnauthorized = errors.New("instantly: unauthorized")

// ErrCircuitOpen is returned by the limiter while an operation's breaker
// is cooling down.
var ErrCircuitOpen = errors.New("instantly: circuit open")

// APIError is a non-2xx response from the campaign service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("instantly: API error (status %d): %s", e.StatusCode, e.Message)
}

// Retryable reports whether the status indicates a transient condition.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// classifyStatus maps a response status to the error taxonomy: 401/403
// are fatal, 429/5xx retryable, every other 4xx is a subject-level
// failure the caller records and skips.
func classifyStatus(status int, body string) error {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return fmt.Errorf("%w (status %d)", ErrUnauthorized, status)
	}
	return &APIError{StatusCode: status, Message: body}
}

// IsFatal reports whether err means the whole cycle should stop.
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsRetryable reports whether err is worth another attempt under the
// caller's retry policy.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return false
}

// StatusOf extracts the HTTP status from err for the failure ledger,
// or 0 when the error never reached the remote service.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
