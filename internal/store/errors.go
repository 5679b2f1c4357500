package store

import "errors"

var (
	// ErrInvalidTransition is returned when a lifecycle update matched no row
	// because the chore is no longer in the required state.
	ErrInvalidTransition = errors.New("invalid chore transition")

	// ErrInvalidCredentials is returned by Authenticate for an unknown email or
	// a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
