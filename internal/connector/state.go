package connector

import (
	"log/slog"
	"time"
)

// State is the lifecycle position of a Session.
type State int

// Session states. A session only ever moves one step forward; Closed may
// start a fresh cycle through OpenTransport.
const (
	StateCreated State = iota
	StateTransportOpen
	StateHandshakeComplete
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateTransportOpen:
		return "transport_open"
	case StateHandshakeComplete:
		return "handshake_complete"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DefaultKeepAlive is the MQTT keep-alive interval used when Options
// leaves it unset.
const DefaultKeepAlive = 20 * time.Second

// Features toggles optional session behaviour.
type Features struct {
	// LastWill registers a DisconnectMessage as the broker-held last will
	// and publishes it explicitly on graceful teardown.
	LastWill bool

	// ConnectAnnouncement publishes a ConnectMessage right after the
	// protocol connect succeeds.
	ConnectAnnouncement bool
}

// QoSLevels holds the delivery level of each message class.
type QoSLevels struct {
	Status   byte
	Uplink   byte
	Downlink byte
	Connect  byte
	Will     byte
}

// DefaultQoS returns at-least-once delivery for every message class.
func DefaultQoS() QoSLevels {
	return QoSLevels{Status: 1, Uplink: 1, Downlink: 1, Connect: 1, Will: 1}
}

// Logger is the logging surface a Session writes to.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Session at construction time.
type Options struct {
	// KeepAlive is the MQTT keep-alive interval. Zero selects DefaultKeepAlive.
	KeepAlive time.Duration

	Features Features

	// QoS per message class. The zero value selects DefaultQoS.
	QoS QoSLevels

	// Logger receives session diagnostics. Nil discards them.
	Logger Logger

	// Observer receives every session event. Nil disables events.
	Observer Observer
}

// DefaultOptions returns the options of a standard router session: both
// optional features enabled, at-least-once delivery, 20 s keep-alive.
func DefaultOptions() Options {
	return Options{
		KeepAlive: DefaultKeepAlive,
		Features: Features{
			LastWill:            true,
			ConnectAnnouncement: true,
		},
		QoS: DefaultQoS(),
	}
}

// withDefaults fills unset fields.
func (o Options) withDefaults() Options {
	if o.KeepAlive <= 0 {
		o.KeepAlive = DefaultKeepAlive
	}
	if o.QoS == (QoSLevels{}) {
		o.QoS = DefaultQoS()
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// Stats counts session traffic since New.
type Stats struct {
	UplinksSent       uint64 `json:"uplinks_sent"`
	StatusSent        uint64 `json:"status_sent"`
	PublishFailures   uint64 `json:"publish_failures"`
	DownlinksReceived uint64 `json:"downlinks_received"`
	DownlinksDropped  uint64 `json:"downlinks_dropped"`
	Handshakes        uint64 `json:"handshakes"`
}
