// Package influxdb exports connector metrics to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, non-blocking batched writes and health monitoring.
//
// # Measurements
//
//	connector_events    one point per session event (tags gateway_id, kind)
//	connector_sessions  periodic snapshot of session counters (tags gateway_id, state)
//
// Every point also carries service=ttngwc.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteSessionEvent("office", "uplink_sent", 23, false, time.Now())
//
// # Error Handling
//
// Writes are non-blocking; batch failures are delivered to the callback
// set with SetOnError wrapped in ErrWriteFailed and counted by
// WriteFailures. Connection and health check errors are returned directly.
package influxdb
