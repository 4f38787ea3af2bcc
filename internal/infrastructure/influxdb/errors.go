package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed is returned by Connect when the server cannot be
	// pinged.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrUnhealthy is returned when the server answers the ping but reports
	// itself unhealthy.
	ErrUnhealthy = errors.New("influxdb: server not healthy")

	// ErrClosed is returned by HealthCheck after Close.
	ErrClosed = errors.New("influxdb: client closed")

	// ErrWriteFailed wraps every asynchronous batch failure handed to the
	// SetOnError callback.
	ErrWriteFailed = errors.New("influxdb: batch write failed")
)
