package connector

import (
	"context"
	"errors"
	"fmt"

	"github.com/TheThingsArchive/ttn-gateway-connector/internal/codec"
	"github.com/TheThingsArchive/ttn-gateway-connector/internal/infrastructure/mqtt"
)

// Connect performs the protocol handshake over the open transport:
//
//  1. MQTT CONNECT with the gateway ID as client ID, the key as credential
//     (when non-empty) and the DisconnectMessage as last will (LastWill)
//  2. publish ConnectMessage on "connect" (ConnectAnnouncement)
//  3. subscribe to "<id>/down"
//
// On success the session is HandshakeComplete. If any step fails the
// protocol session is disconnected, the key is released and the session
// returns to TransportOpen; the returned error wraps ErrHandshake (and
// ErrTimeout when the broker did not answer in time).
//
// A broker closes its end of the socket after the rollback DISCONNECT, so
// when the failure happened after the MQTT CONNECT was accepted a retry on
// the same transport usually fails too. Call CloseTransport and
// OpenTransport before retrying.
func (s *Session) Connect(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return ErrReleased
	}
	if s.state != StateTransportOpen {
		return fmt.Errorf("%w: connect in state %s", ErrInvalidState, s.state)
	}
	if err := s.checkTLS(); err != nil {
		s.emit(EventHandshakeFailed, "", 0, err)
		return err
	}

	if key != "" {
		s.credential = []byte(key)
	}

	connected, err := s.handshake(ctx)
	if err != nil {
		s.rollback(connected)
		s.opts.Logger.Warn("handshake failed", "gateway_id", s.id, "error", err)
		s.emit(EventHandshakeFailed, "", 0, err)
		return err
	}

	s.state = StateHandshakeComplete
	s.stats.Handshakes++
	s.opts.Logger.Info("connected to router", "gateway_id", s.id, "downlink_topic", s.downlinkTopic)
	s.emit(EventConnected, s.downlinkTopic, 0, nil)
	return nil
}

// Disconnect gracefully ends the session: publishes the DisconnectMessage
// (LastWill), sends the protocol DISCONNECT and closes the transport.
// The state is Closed afterwards whatever happens; the first failure is
// returned. Disconnecting a session that is not open is a no-op.
//
// If the announcement cannot be published the protocol DISCONNECT is
// skipped, so the broker still delivers the registered last will.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return ErrReleased
	}
	return s.teardown()
}

// checkTLS refuses the handshake while an upgrade is pending and after an
// upgrade failed. A failed upgrade sticks until the transport is closed.
// Caller must hold s.mu.
func (s *Session) checkTLS() error {
	if s.tlsFailed {
		return fmt.Errorf("%w: TLS upgrade failed, reopen the transport", ErrHandshake)
	}
	if !s.tlsStarted {
		return nil
	}
	if s.transport.IsTLSBusy() {
		return fmt.Errorf("%w: %w", ErrHandshake, ErrTLSBusy)
	}
	if !s.transport.IsTLSSecure() {
		s.tlsFailed = true
		return fmt.Errorf("%w: TLS session not secure", ErrHandshake)
	}
	return nil
}

// handshake runs the three handshake steps. connected reports whether the
// protocol CONNECT succeeded, so rollback knows whether to undo it.
// Caller must hold s.mu.
func (s *Session) handshake(ctx context.Context) (connected bool, err error) {
	opts := mqtt.ConnectOptions{
		ClientID:  s.id,
		KeepAlive: s.opts.KeepAlive,
	}
	if len(s.credential) > 0 {
		opts.Username = s.id
		opts.Password = s.credential
	}

	if s.opts.Features.LastWill {
		payload, err := s.disconnectPayload()
		if err != nil {
			return false, fmt.Errorf("%w: encoding last will: %w", ErrHandshake, err)
		}
		opts.Will = &mqtt.Will{
			Topic:   mqtt.TopicDisconnect,
			Payload: payload,
			QoS:     s.opts.QoS.Will,
		}
	}

	if err := s.protocol.Connect(ctx, opts); err != nil {
		return false, classify(ErrHandshake, err)
	}

	if s.opts.Features.ConnectAnnouncement {
		msg := &codec.ConnectMessage{ID: s.id, Key: string(s.credential)}
		payload, err := msg.Marshal()
		if err != nil {
			return true, fmt.Errorf("%w: encoding connect message: %w", ErrHandshake, err)
		}
		if err := s.protocol.Publish(mqtt.TopicConnect, payload, s.opts.QoS.Connect); err != nil {
			return true, classify(ErrHandshake, err)
		}
	}

	topic := mqtt.TopicFor(s.id, mqtt.SuffixDownlink)
	if err := s.protocol.Subscribe(topic, s.opts.QoS.Downlink, s.receive); err != nil {
		return true, classify(ErrHandshake, err)
	}
	s.downlinkTopic = topic

	return true, nil
}

// rollback undoes a partial handshake. The transport stays open.
// Caller must hold s.mu.
func (s *Session) rollback(connected bool) {
	if connected {
		if err := s.protocol.Disconnect(); err != nil {
			s.opts.Logger.Debug("disconnect during rollback failed", "gateway_id", s.id, "error", err)
		}
	}
	s.releaseCredential()
	s.downlinkTopic = ""
	s.state = StateTransportOpen
}

// teardown brings the session to Closed from any state.
// Caller must hold s.mu.
func (s *Session) teardown() error {
	switch s.state {
	case StateCreated, StateClosed:
		return nil
	case StateTransportOpen:
		return s.closeTransport()
	}

	var firstErr error
	announced := true

	if s.opts.Features.LastWill {
		if err := s.announceDisconnect(); err != nil {
			announced = false
			firstErr = err
			s.opts.Logger.Warn("disconnect announcement failed, leaving last will to the broker",
				"gateway_id", s.id, "error", err)
			s.emit(EventAnnouncementError, mqtt.TopicDisconnect, 0, err)
		}
	}

	if announced {
		if err := s.protocol.Disconnect(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: %w", ErrTransport, err)
		}
		if err := s.closeTransport(); err != nil && firstErr == nil {
			firstErr = err
		}
	} else {
		// Drop the socket before releasing the protocol session so no
		// DISCONNECT reaches the broker.
		if err := s.closeTransport(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := s.protocol.Disconnect(); err != nil {
			s.opts.Logger.Debug("protocol release after abrupt close", "gateway_id", s.id, "error", err)
		}
	}

	s.releaseCredential()
	s.downlinkTopic = ""
	s.pending = nil
	s.state = StateClosed
	s.opts.Logger.Info("disconnected from router", "gateway_id", s.id)
	s.emit(EventDisconnected, "", 0, firstErr)
	return firstErr
}

// announceDisconnect publishes the DisconnectMessage. Caller must hold s.mu.
func (s *Session) announceDisconnect() error {
	payload, err := s.disconnectPayload()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}
	if err := s.protocol.Publish(mqtt.TopicDisconnect, payload, s.opts.QoS.Will); err != nil {
		return classify(ErrPublish, err)
	}
	return nil
}

func (s *Session) disconnectPayload() ([]byte, error) {
	msg := &codec.DisconnectMessage{ID: s.id, Key: string(s.credential)}
	return msg.Marshal()
}

// classify wraps a protocol error in class, marking broker timeouts.
func classify(class, err error) error {
	if errors.Is(err, mqtt.ErrTimeout) {
		return fmt.Errorf("%w (%w): %w", class, ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", class, err)
}
