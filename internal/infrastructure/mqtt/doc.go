// Package mqtt provides the MQTT protocol client a gateway uses to talk to
// The Things Network router.
//
// This package manages:
//   - The CONNECT exchange with client ID, optional credentials and last will
//   - Message publishing with QoS acknowledgement and per-command timeouts
//   - Topic subscriptions with SUBACK failure detection
//   - A cooperative poll point (Yield) that dispatches inbound messages
//   - Topic builders for the router protocol
//
// # Architecture
//
// The client never dials. It speaks over the socket a ConnSource hands it
// (transport.TCP in production), so the connection can be opened and
// upgraded to TLS independently of the MQTT session:
//
//	Gateway Session → mqtt.Client → transport.TCP → Router Broker
//
// Automatic reconnection is disabled; losing the link surfaces as
// ErrConnectionLost from Yield and the caller decides what to do.
//
// # Topics
//
//	<gateway-id>/up       uplink frames (gateway → router)
//	<gateway-id>/status   status reports (gateway → router)
//	<gateway-id>/down     downlink frames (router → gateway)
//	connect               session announcements
//	disconnect            session end announcements and last wills
//
// # Usage
//
//	client := mqtt.New(tcp, time.Second)
//	err := client.Connect(ctx, mqtt.ConnectOptions{ClientID: "office"})
//	if err != nil {
//	    return err
//	}
//	defer client.Disconnect()
//
//	err = client.Subscribe(mqtt.Topics{}.Downlink("office"), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(payload)
//	    })
//
//	for {
//	    if err := client.Yield(time.Second); err != nil {
//	        return err
//	    }
//	}
package mqtt
