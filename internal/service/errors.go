package service

import "errors"

var (
	// ErrNotSignedIn is returned when an operation needs a session and none exists.
	ErrNotSignedIn = errors.New("not signed in")

	// ErrUnauthorized is returned when the backend rejects the credentials or token.
	ErrUnauthorized = errors.New("token expired or revoked")

	// ErrNotFound is returned when the backend reports a missing resource.
	ErrNotFound = errors.New("not found")

	// ErrConfirmationPending is returned by SignUp when no session was issued yet.
	ErrConfirmationPending = errors.New("confirmation email sent; confirm the address and log in")
)

// IsAuthError reports whether err means the user has to log in again.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotSignedIn)
}
