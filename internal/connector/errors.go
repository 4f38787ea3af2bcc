package connector

import "errors"

// Domain-specific errors for session operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidID is returned by New when the gateway ID is empty.
	ErrInvalidID = errors.New("connector: gateway ID cannot be empty")

	// ErrInvalidState is returned when an operation is not valid in the
	// session's current state (for example Connect before OpenTransport).
	ErrInvalidState = errors.New("connector: operation not valid in current state")

	// ErrReleased is returned by every operation after Cleanup.
	ErrReleased = errors.New("connector: session released")

	// ErrTransport is returned when the socket cannot be opened or closed.
	// The session keeps its prior state so the caller may retry.
	ErrTransport = errors.New("connector: transport error")

	// ErrHandshake is returned when the protocol connect, the connect
	// announcement or the downlink subscription fails. The session rolls
	// back to TransportOpen, but the broker may already have closed the
	// socket; reopen the transport before retrying.
	ErrHandshake = errors.New("connector: handshake failed")

	// ErrTLSBusy is returned (with ErrHandshake) when Connect is called
	// while the TLS upgrade is still negotiating.
	ErrTLSBusy = errors.New("connector: TLS handshake in progress")

	// ErrNotConnected is returned by send and poll operations outside
	// HandshakeComplete.
	ErrNotConnected = errors.New("connector: session not connected")

	// ErrPublish is returned when a single message could not be delivered.
	// The session itself stays usable.
	ErrPublish = errors.New("connector: publish failed")

	// ErrTimeout is returned when the broker did not acknowledge within the
	// command timeout. Sends report it instead of ErrPublish; the handshake
	// reports it together with ErrHandshake.
	ErrTimeout = errors.New("connector: command timed out")

	// ErrConnectionLost is returned by Poll when the protocol client can no
	// longer reach the broker. Tear the session down and reconnect.
	ErrConnectionLost = errors.New("connector: connection lost")
)
