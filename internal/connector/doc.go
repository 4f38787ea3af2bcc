// Package connector implements the gateway side of a router session.
//
// A Session owns one broker socket (Transport) and one MQTT client
// (Protocol) and drives them through a fixed lifecycle:
//
//	Created ──OpenTransport──► TransportOpen ──Connect──► HandshakeComplete
//	   ▲                           │   ▲                        │
//	   │                           │   └──── failed Connect ────┤
//	   └──────── (new cycle) ── Closed ◄── CloseTransport/Disconnect
//
// While HandshakeComplete the gateway sends uplinks and status reports and
// calls Poll periodically; decoded downlinks reach the DownlinkHandler
// given to New.
//
// # Announcements
//
// With Features.LastWill the broker holds a DisconnectMessage as last will
// and the session publishes the same message on graceful teardown, so the
// router learns about the gateway leaving either way. With
// Features.ConnectAnnouncement a ConnectMessage is published right after
// CONNECT.
//
// # Concurrency
//
// Every Session method takes an internal lock; a Session may be shared
// between a poll loop and senders on other goroutines. The downlink
// handler runs outside the lock.
//
// # Usage
//
//	s, err := connector.New("office", tcp, mqtt.New(tcp, time.Second),
//	    handleDownlink, nil, connector.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer s.Cleanup()
//
//	if err := s.OpenTransport(ctx, "router.eu.thethings.network", 1883); err != nil {
//	    return err
//	}
//	if err := s.Connect(ctx, key); err != nil {
//	    return err
//	}
//	for {
//	    if err := s.Poll(time.Second); err != nil {
//	        return err
//	    }
//	}
package connector
