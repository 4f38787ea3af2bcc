package transport

import "errors"

// Domain-specific errors for transport operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrAlreadyOpen is returned when Open is called on an open transport.
	ErrAlreadyOpen = errors.New("transport: already open")

	// ErrNotOpen is returned when an operation needs an open socket.
	ErrNotOpen = errors.New("transport: not open")

	// ErrDialFailed is returned when the TCP connection cannot be established.
	ErrDialFailed = errors.New("transport: dial failed")

	// ErrTLSConfig is returned when the TLS settings cannot be turned into a
	// client configuration (unreadable or empty CA file).
	ErrTLSConfig = errors.New("transport: invalid TLS configuration")

	// ErrTLSStarted is returned when StartTLS is called a second time on the
	// same connection.
	ErrTLSStarted = errors.New("transport: TLS already started")
)
