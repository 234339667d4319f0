package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors forming the client-side error taxonomy. Callers branch on
// these with errors.Is; the verbatim server message, when one exists, is
// available through errors.As with *ServerError.
var (
	// ErrUnavailable means no usable response arrived (connection refused,
	// timeout, dropped transfer). Recoverable; the session is untouched.
	ErrUnavailable = errors.New("server unavailable")

	// ErrUnauthorized means a secured call was explicitly rejected by the
	// server (401/403), or would have been attempted without a credential.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSessionExpired is returned by the gateway after a rejection has
	// forced the session back to the unauthenticated state. Distinguishable
	// from ErrUnauthorized so callers can prompt for re-authentication.
	ErrSessionExpired = errors.New("session expired")

	// ErrThrottled marks an OTP request the server refused because one was
	// sent too recently. Recoverable; retry after the cooldown.
	ErrThrottled = errors.New("otp request throttled")

	// ErrValidation marks client-side validation failures. No network call
	// was made.
	ErrValidation = errors.New("validation failed")
)

// ServerError is a well-formed application-level error response: the server
// answered with a non-2xx status and an {"error": ...} body. The message is
// surfaced verbatim.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("server error (status %d): %s", e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrThrottled) match rate-limit responses while the
// verbatim message stays reachable via errors.As.
func (e *ServerError) Is(target error) bool {
	return target == ErrThrottled && e.StatusCode == http.StatusTooManyRequests
}
