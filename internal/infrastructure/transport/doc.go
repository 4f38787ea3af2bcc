// Package transport provides the byte-stream connection between a gateway
// and the router's MQTT broker.
//
// This package manages:
//   - Dialing the broker over TCP with a context-bound timeout
//   - Upgrading the socket to TLS without blocking the caller
//   - Reporting liveness and write readiness to the session layer
//
// # TLS Upgrade
//
// StartTLS wraps the open socket and runs the handshake in its own
// goroutine. Callers poll IsTLSBusy until it reports false, then check
// IsTLSSecure. This mirrors gateways whose main loop cannot block on a
// handshake.
//
//	t := transport.NewTCP(cfg.Broker)
//	if err := t.Open(ctx, cfg.Broker.Host, cfg.Broker.Port); err != nil {
//	    return err
//	}
//	if err := t.StartTLS(); err != nil {
//	    return err
//	}
//	for t.IsTLSBusy() {
//	    time.Sleep(10 * time.Millisecond)
//	}
//	if !t.IsTLSSecure() {
//	    return errors.New("broker certificate rejected")
//	}
//
// # Ownership
//
// The TCP value owns the socket. Conn hands the current connection to the
// protocol client, which must not close it; Close is the only path that
// releases the descriptor.
package transport
