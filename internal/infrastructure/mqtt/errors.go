package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when attempting operations on a disconnected client.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrAlreadyConnected is returned when Connect is called on a live session.
	ErrAlreadyConnected = errors.New("mqtt: client already connected")

	// ErrConnectionFailed is returned when the CONNECT exchange fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrConnectionLost is returned by Yield after the broker connection dropped.
	ErrConnectionLost = errors.New("mqtt: connection lost")

	// ErrNoTransport is returned when the connection source has no usable socket.
	ErrNoTransport = errors.New("mqtt: no transport connection")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails,
	// including a SUBACK carrying the failure return code.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed is returned when an unsubscribe operation fails.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty or invalid topic is provided.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")

	// ErrInvalidClientID is returned when Connect is called without a client ID.
	ErrInvalidClientID = errors.New("mqtt: client ID cannot be empty")

	// ErrTimeout is returned when an operation times out. It is always
	// wrapped together with the operation's own error.
	ErrTimeout = errors.New("mqtt: operation timed out")
)
