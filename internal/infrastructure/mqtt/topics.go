package mqtt

import (
	"fmt"
	"strings"
)

// Topic suffixes and session-wide topics of the router protocol.
//
// Per-gateway topics are "<gateway-id>/<suffix>"; the connect and
// disconnect announcements share one topic for all gateways.
const (
	// SuffixUplink carries radio frames received by a gateway.
	SuffixUplink = "up"

	// SuffixDownlink carries frames the router wants a gateway to transmit.
	SuffixDownlink = "down"

	// SuffixStatus carries periodic gateway status reports.
	SuffixStatus = "status"

	// TopicConnect carries ConnectMessage announcements.
	TopicConnect = "connect"

	// TopicDisconnect carries DisconnectMessage announcements and last wills.
	TopicDisconnect = "disconnect"
)

// TopicFor returns the per-gateway topic "<id>/<suffix>".
//
// Example: TopicFor("office", "up") returns "office/up"
func TopicFor(id, suffix string) string {
	return fmt.Sprintf("%s/%s", id, suffix)
}

// Topics provides builders for router MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	up := topics.Uplink("office")
//	// Returns: "office/up"
type Topics struct{}

// =============================================================================
// Gateway Topics
// =============================================================================

// Uplink returns the topic a gateway publishes received frames on.
//
// Example: office/up
func (Topics) Uplink(gatewayID string) string {
	return TopicFor(gatewayID, SuffixUplink)
}

// Downlink returns the topic a gateway receives transmit requests on.
//
// Example: office/down
func (Topics) Downlink(gatewayID string) string {
	return TopicFor(gatewayID, SuffixDownlink)
}

// Status returns the topic a gateway publishes status reports on.
//
// Example: office/status
func (Topics) Status(gatewayID string) string {
	return TopicFor(gatewayID, SuffixStatus)
}

// =============================================================================
// Session Topics
// =============================================================================

// Connect returns the connect announcement topic.
func (Topics) Connect() string {
	return TopicConnect
}

// Disconnect returns the disconnect announcement and last-will topic.
func (Topics) Disconnect() string {
	return TopicDisconnect
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllUplinks returns a pattern matching the uplinks of every gateway.
//
// Pattern: +/up
func (Topics) AllUplinks() string {
	return TopicFor("+", SuffixUplink)
}

// AllDownlinks returns a pattern matching the downlinks of every gateway.
//
// Pattern: +/down
func (Topics) AllDownlinks() string {
	return TopicFor("+", SuffixDownlink)
}

// AllStatus returns a pattern matching the status reports of every gateway.
//
// Pattern: +/status
func (Topics) AllStatus() string {
	return TopicFor("+", SuffixStatus)
}

// GatewayID extracts the gateway ID from a per-gateway topic.
// It returns false when topic does not have the "<id>/<suffix>" form.
func GatewayID(topic string) (string, bool) {
	id, suffix, ok := strings.Cut(topic, "/")
	if !ok || id == "" || suffix == "" {
		return "", false
	}
	return id, true
}
