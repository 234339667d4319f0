// Package session owns the authentication state machine and the credential
// it guards. All credential writes happen here; other packages only read.
package session

import "errors"

// State is the client's position in the two-factor login flow.
type State int

const (
	// StateUnauthenticated is the boot state; no password has been accepted.
	StateUnauthenticated State = iota

	// StatePasswordVerified means the server accepted the password but no
	// one-time code has been requested yet.
	StatePasswordVerified

	// StateOtpPending means a one-time code has been sent out-of-band and
	// the machine is waiting for the user to enter it.
	StateOtpPending

	// StateAuthorized means OTP verification succeeded and a credential is
	// held. This is the only state in which the store is non-empty.
	StateAuthorized
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StatePasswordVerified:
		return "password-verified"
	case StateOtpPending:
		return "otp-pending"
	case StateAuthorized:
		return "authorized"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidState is returned when an operation is attempted from a
	// state its guard does not allow.
	ErrInvalidState = errors.New("operation not allowed in current state")

	// ErrBusy is returned when an authentication operation is already in
	// flight. The caller should wait for it to finish rather than retry
	// immediately.
	ErrBusy = errors.New("another authentication operation is in progress")
)
