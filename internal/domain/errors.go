package domain

import "errors"

var (
	// ErrUnauthorized marks a 401/403 from the backend. It is terminal for
	// the current connection: no automatic retry, the caller must refresh
	// the credential and reconnect explicitly.
	ErrUnauthorized = errors.New("credential rejected")

	// ErrNotConnected is returned when a send is attempted on a transport
	// that is not currently connected.
	ErrNotConnected = errors.New("transport not connected")
)
