package connector

import "time"

// EventKind names a session event.
type EventKind string

// Session event kinds.
const (
	EventTransportOpened   EventKind = "transport_opened"
	EventTransportClosed   EventKind = "transport_closed"
	EventTLSStarted        EventKind = "tls_started"
	EventConnected         EventKind = "connected"
	EventHandshakeFailed   EventKind = "handshake_failed"
	EventDisconnected      EventKind = "disconnected"
	EventUplinkSent        EventKind = "uplink_sent"
	EventStatusSent        EventKind = "status_sent"
	EventPublishFailed     EventKind = "publish_failed"
	EventDownlinkReceived  EventKind = "downlink_received"
	EventDownlinkDropped   EventKind = "downlink_dropped"
	EventConnectionLost    EventKind = "connection_lost"
	EventAnnouncementError EventKind = "announcement_failed"
)

// Event describes one thing that happened to a session.
type Event struct {
	SessionID string
	Kind      EventKind
	Topic     string
	Bytes     int
	Err       error
	At        time.Time
}

// Observer receives session events. SessionEvent is called synchronously
// while the session lock is held, so it must be quick and must not call
// back into the Session.
type Observer interface {
	SessionEvent(e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(e Event)

// SessionEvent calls f(e).
func (f ObserverFunc) SessionEvent(e Event) { f(e) }

// Observers fans an event out to several observers in order.
type Observers []Observer

// SessionEvent forwards e to every non-nil observer.
func (o Observers) SessionEvent(e Event) {
	for _, obs := range o {
		if obs != nil {
			obs.SessionEvent(e)
		}
	}
}
