package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/TheThingsArchive/ttn-gateway-connector/internal/codec"
	"github.com/TheThingsArchive/ttn-gateway-connector/internal/infrastructure/mqtt"
)

// Transport is the socket a Session owns. transport.TCP implements it.
type Transport interface {
	Open(ctx context.Context, host string, port int) error
	Close() error
	IsConnected() bool
	IsWriteReady(size int, timeout time.Duration) bool
	StartTLS() error
	IsTLSBusy() bool
	IsTLSSecure() bool
}

// Protocol is the MQTT client a Session drives over its Transport.
// mqtt.Client implements it.
type Protocol interface {
	Connect(ctx context.Context, opts mqtt.ConnectOptions) error
	Disconnect() error
	Publish(topic string, payload []byte, qos byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Yield(timeout time.Duration) error
}

// DownlinkHandler receives every downlink that decodes successfully, along
// with the opaque argument given to New. It runs on the goroutine that
// called Poll (or DeliverDownlink), outside the session lock.
type DownlinkHandler func(msg *codec.DownlinkMessage, arg any)

// Session is one gateway's connection to the router.
//
// All operations are serialized by an internal lock; the downlink handler
// is always invoked after that lock is released, so it may call SendUplink
// or SendStatus.
type Session struct {
	mu sync.Mutex

	id        string
	opts      Options
	transport Transport
	protocol  Protocol
	handler   DownlinkHandler
	arg       any

	state         State
	credential    []byte
	downlinkTopic string
	tlsStarted    bool
	tlsFailed     bool
	released      bool

	// pending collects downlinks decoded during Yield; Poll hands them to
	// the handler once the lock is dropped.
	pending []*codec.DownlinkMessage
	stats   Stats
}

// New creates a session for the gateway id. The session takes ownership of
// transport and protocol; Cleanup releases them.
//
// Returns ErrInvalidID if id is empty.
func New(id string, transport Transport, protocol Protocol, handler DownlinkHandler, arg any, opts Options) (*Session, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	if transport == nil || protocol == nil {
		return nil, fmt.Errorf("connector: transport and protocol are required")
	}

	return &Session{
		id:        id,
		opts:      opts.withDefaults(),
		transport: transport,
		protocol:  protocol,
		handler:   handler,
		arg:       arg,
		state:     StateCreated,
	}, nil
}

// Cleanup tears the session down if it is still open and releases
// everything it holds. It is valid from any state and safe to call twice.
// Every other operation returns ErrReleased afterwards.
func (s *Session) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return
	}

	if s.state == StateTransportOpen || s.state == StateHandshakeComplete {
		if err := s.teardown(); err != nil {
			s.opts.Logger.Warn("teardown during cleanup failed", "gateway_id", s.id, "error", err)
		}
	}

	s.releaseCredential()
	s.downlinkTopic = ""
	s.pending = nil
	s.handler = nil
	s.arg = nil
	s.released = true
}

// ID returns the gateway ID the session was created for.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// DownlinkTopic returns the topic subscribed during the handshake, or ""
// when the session is not connected.
func (s *Session) DownlinkTopic() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downlinkTopic
}

// Stats returns a snapshot of the traffic counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// IsConnected reports whether the transport socket is open.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false
	}
	return s.transport.IsConnected()
}

// IsWriteReady reports whether size bytes can be written within timeout.
// Callers check it before SendUplink on a congested link.
func (s *Session) IsWriteReady(size int, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false
	}
	return s.transport.IsWriteReady(size, timeout)
}

// OpenTransport dials the broker. Valid from Created and Closed.
// On failure the state is unchanged and the call may be retried.
func (s *Session) OpenTransport(ctx context.Context, host string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return ErrReleased
	}
	if s.state != StateCreated && s.state != StateClosed {
		return fmt.Errorf("%w: open transport in state %s", ErrInvalidState, s.state)
	}

	if err := s.transport.Open(ctx, host, port); err != nil {
		s.emit(EventTransportOpened, "", 0, err)
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	s.tlsStarted = false
	s.tlsFailed = false
	s.state = StateTransportOpen
	s.opts.Logger.Debug("transport open", "gateway_id", s.id, "host", host, "port", port)
	s.emit(EventTransportOpened, "", 0, nil)
	return nil
}

// CloseTransport closes the socket. From HandshakeComplete it performs a
// full teardown first. Closing an already closed session is a no-op.
func (s *Session) CloseTransport() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return ErrReleased
	}
	return s.teardown()
}

// StartTLS begins upgrading the open transport to TLS. The upgrade runs in
// the background; Connect refuses to proceed while IsTLSBusy reports true
// and fails if the upgrade did not end in a verified session.
func (s *Session) StartTLS() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return ErrReleased
	}
	if s.state != StateTransportOpen {
		return fmt.Errorf("%w: start TLS in state %s", ErrInvalidState, s.state)
	}

	if err := s.transport.StartTLS(); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	s.tlsStarted = true
	s.emit(EventTLSStarted, "", 0, nil)
	return nil
}

// IsTLSBusy reports whether a TLS upgrade is still negotiating.
func (s *Session) IsTLSBusy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false
	}
	return s.transport.IsTLSBusy()
}

// IsTLSSecure reports whether the transport carries a verified TLS session.
func (s *Session) IsTLSSecure() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false
	}
	return s.transport.IsTLSSecure()
}

// closeTransport closes the socket and moves to Closed regardless of the
// outcome. Caller must hold s.mu.
func (s *Session) closeTransport() error {
	err := s.transport.Close()

	s.tlsStarted = false
	s.tlsFailed = false
	s.state = StateClosed
	s.emit(EventTransportClosed, "", 0, err)

	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

// releaseCredential zeroes the stored key. Caller must hold s.mu.
func (s *Session) releaseCredential() {
	for i := range s.credential {
		s.credential[i] = 0
	}
	s.credential = nil
}

// emit sends an event to the observer. Caller must hold s.mu.
func (s *Session) emit(kind EventKind, topic string, n int, err error) {
	if s.opts.Observer == nil {
		return
	}
	s.opts.Observer.SessionEvent(Event{
		SessionID: s.id,
		Kind:      kind,
		Topic:     topic,
		Bytes:     n,
		Err:       err,
		At:        time.Now().UTC(),
	})
}
