package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TheThingsArchive/ttn-gateway-connector/internal/codec"
	"github.com/TheThingsArchive/ttn-gateway-connector/internal/infrastructure/mqtt"
)

// payloadMarshaler is implemented by the outbound codec messages.
type payloadMarshaler interface {
	Marshal() ([]byte, error)
}

// SendUplink publishes msg on "<id>/up".
//
// Returns ErrNotConnected outside HandshakeComplete, ErrTimeout when the
// broker did not acknowledge in time, and ErrPublish for any other
// delivery failure. A failed send never changes the session state.
func (s *Session) SendUplink(ctx context.Context, msg *codec.UplinkMessage) error {
	return s.send(ctx, msg, mqtt.SuffixUplink, s.opts.QoS.Uplink, EventUplinkSent, &s.stats.UplinksSent)
}

// SendStatus publishes msg on "<id>/status". Errors as for SendUplink.
func (s *Session) SendStatus(ctx context.Context, msg *codec.Status) error {
	return s.send(ctx, msg, mqtt.SuffixStatus, s.opts.QoS.Status, EventStatusSent, &s.stats.StatusSent)
}

func (s *Session) send(ctx context.Context, msg payloadMarshaler, suffix string, qos byte, kind EventKind, counter *uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return ErrReleased
	}
	if s.state != StateHandshakeComplete {
		return ErrNotConnected
	}

	topic := mqtt.TopicFor(s.id, suffix)

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}

	payload, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %w", ErrPublish, suffix, err)
	}

	if err := s.protocol.Publish(topic, payload, qos); err != nil {
		s.stats.PublishFailures++
		if errors.Is(err, mqtt.ErrTimeout) {
			err = fmt.Errorf("%w: %w", ErrTimeout, err)
		} else {
			err = fmt.Errorf("%w: %w", ErrPublish, err)
		}
		s.emit(EventPublishFailed, topic, len(payload), err)
		return err
	}

	*counter++
	s.emit(kind, topic, len(payload), nil)
	return nil
}

// Poll gives the protocol client up to timeout to process inbound traffic.
// Every downlink that decodes is handed to the handler after the session
// lock is released; malformed downlinks are dropped and logged.
//
// Returns ErrNotConnected outside HandshakeComplete and ErrConnectionLost
// once the broker link is gone. Downlinks that arrived before the loss are
// still delivered.
func (s *Session) Poll(timeout time.Duration) error {
	s.mu.Lock()

	if s.released {
		s.mu.Unlock()
		return ErrReleased
	}
	if s.state != StateHandshakeComplete {
		s.mu.Unlock()
		return ErrNotConnected
	}

	err := s.protocol.Yield(timeout)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrConnectionLost, err)
		s.opts.Logger.Warn("broker link lost", "gateway_id", s.id, "error", err)
		s.emit(EventConnectionLost, "", 0, err)
	}

	pending := s.pending
	s.pending = nil
	handler, arg := s.handler, s.arg
	s.mu.Unlock()

	s.deliver(handler, arg, pending)
	return err
}

// DeliverDownlink feeds raw downlink bytes through the same decode path
// the subscription uses and invokes the handler directly. It reports
// whether the handler was called.
//
// Returns ErrNotConnected outside HandshakeComplete.
func (s *Session) DeliverDownlink(payload []byte) (bool, error) {
	s.mu.Lock()

	if s.released {
		s.mu.Unlock()
		return false, ErrReleased
	}
	if s.state != StateHandshakeComplete {
		s.mu.Unlock()
		return false, ErrNotConnected
	}

	msg, ok := s.decode(s.downlinkTopic, payload)
	handler, arg := s.handler, s.arg
	s.mu.Unlock()

	if !ok {
		return false, nil
	}
	s.deliver(handler, arg, []*codec.DownlinkMessage{msg})
	return handler != nil, nil
}

// receive is the subscription handler. The protocol client calls it from
// inside Yield, which Poll runs with s.mu held.
func (s *Session) receive(topic string, payload []byte) error {
	if msg, ok := s.decode(topic, payload); ok {
		s.pending = append(s.pending, msg)
	}
	return nil
}

// decode parses a downlink, dropping it when malformed. Caller must hold s.mu.
func (s *Session) decode(topic string, payload []byte) (*codec.DownlinkMessage, bool) {
	msg := &codec.DownlinkMessage{}
	if err := msg.Unmarshal(payload); err != nil {
		s.stats.DownlinksDropped++
		s.opts.Logger.Debug("dropping malformed downlink",
			"gateway_id", s.id, "topic", topic, "size", len(payload), "error", err)
		s.emit(EventDownlinkDropped, topic, len(payload), err)
		return nil, false
	}

	s.stats.DownlinksReceived++
	s.emit(EventDownlinkReceived, topic, len(payload), nil)
	return msg, true
}

func (s *Session) deliver(handler DownlinkHandler, arg any, msgs []*codec.DownlinkMessage) {
	if handler == nil {
		return
	}
	for _, msg := range msgs {
		handler(msg, arg)
	}
}
