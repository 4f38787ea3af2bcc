package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the connector.
const (
	MeasurementEvents   = "connector_events"
	MeasurementSessions = "connector_sessions"
)

// WriteSessionEvent records one session event.
//
// Tags: gateway_id, kind. Fields: bytes, failed (0 or 1).
func (c *Client) WriteSessionEvent(gatewayID, kind string, bytes int, failed bool, at time.Time) {
	if !c.IsConnected() {
		return
	}

	failedValue := 0
	if failed {
		failedValue = 1
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementEvents,
		map[string]string{
			"gateway_id": gatewayID,
			"kind":       kind,
		},
		map[string]any{
			"bytes":  bytes,
			"failed": failedValue,
		},
		at,
	))
}

// WriteSessionCounters records a snapshot of a session's cumulative
// counters, one field per counter.
//
// Example:
//
//	client.WriteSessionCounters("office", "handshake_complete", map[string]uint64{
//	    "uplinks_sent": 12, "downlinks_received": 3,
//	})
func (c *Client) WriteSessionCounters(gatewayID, state string, counters map[string]uint64) {
	if !c.IsConnected() || len(counters) == 0 {
		return
	}

	fields := make(map[string]any, len(counters))
	for k, v := range counters {
		fields[k] = v
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementSessions,
		map[string]string{
			"gateway_id": gatewayID,
			"state":      state,
		},
		fields,
		time.Now(),
	))
}
