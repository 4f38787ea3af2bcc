package connector

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/TheThingsArchive/ttn-gateway-connector/internal/infrastructure/mqtt"
)

var errInjected = errors.New("injected failure")

// fakeTransport tracks socket ownership so tests can assert nothing leaks.
type fakeTransport struct {
	mu sync.Mutex

	open      bool
	opens     int
	closes    int
	openErr   error
	closeErr  error
	tlsErr    error
	tlsBusy   bool
	tlsSecure bool
	writeOK   bool
	lastHost  string
	lastPort  int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{writeOK: true}
}

func (t *fakeTransport) Open(_ context.Context, host string, port int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.openErr != nil {
		return t.openErr
	}
	if t.open {
		return errors.New("already open")
	}
	t.open = true
	t.opens++
	t.lastHost, t.lastPort = host, port
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open {
		t.open = false
		t.closes++
	}
	return t.closeErr
}

func (t *fakeTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *fakeTransport) IsWriteReady(int, time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open && t.writeOK
}

func (t *fakeTransport) StartTLS() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tlsErr
}

func (t *fakeTransport) IsTLSBusy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tlsBusy
}

func (t *fakeTransport) IsTLSSecure() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tlsSecure
}

func (t *fakeTransport) isOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

// published is one PUBLISH seen by fakeProtocol.
type published struct {
	Topic   string
	Payload []byte
	QoS     byte
}

// fakeProtocol is an in-memory MQTT client. It records every packet the
// session would send and delivers queued inbound messages on Yield.
type fakeProtocol struct {
	mu sync.Mutex

	transport *fakeTransport

	connected   bool
	connects    []mqtt.ConnectOptions
	disconnects int // DISCONNECT packets that reached an open socket
	releases    int // Disconnect calls, sent or not
	published   []published
	subscribed  map[string]byte
	handlers    map[string]mqtt.MessageHandler
	inbound     []published

	connectErr   error
	subscribeErr error
	yieldErr     error
	publishErr   map[string]error
}

func newFakeProtocol(t *fakeTransport) *fakeProtocol {
	return &fakeProtocol{
		transport:  t,
		subscribed: make(map[string]byte),
		handlers:   make(map[string]mqtt.MessageHandler),
		publishErr: make(map[string]error),
	}
}

func (p *fakeProtocol) Connect(_ context.Context, opts mqtt.ConnectOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected {
		return mqtt.ErrAlreadyConnected
	}
	if !p.transport.isOpen() {
		return mqtt.ErrNoTransport
	}
	// Copy the password: the session zeroes its buffer on release.
	opts.Password = append([]byte(nil), opts.Password...)
	p.connects = append(p.connects, opts)
	if p.connectErr != nil {
		return p.connectErr
	}
	p.connected = true
	return nil
}

func (p *fakeProtocol) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil
	}
	p.connected = false
	p.releases++
	if p.transport.isOpen() {
		p.disconnects++
	}
	p.subscribed = make(map[string]byte)
	p.handlers = make(map[string]mqtt.MessageHandler)
	return nil
}

func (p *fakeProtocol) Publish(topic string, payload []byte, qos byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return mqtt.ErrNotConnected
	}
	if err := p.publishErr[topic]; err != nil {
		return err
	}
	p.published = append(p.published, published{
		Topic:   topic,
		Payload: append([]byte(nil), payload...),
		QoS:     qos,
	})
	return nil
}

func (p *fakeProtocol) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return mqtt.ErrNotConnected
	}
	if p.subscribeErr != nil {
		return p.subscribeErr
	}
	p.subscribed[topic] = qos
	p.handlers[topic] = handler
	return nil
}

func (p *fakeProtocol) Yield(time.Duration) error {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return mqtt.ErrNotConnected
	}
	queue := p.inbound
	p.inbound = nil
	handlers := make(map[string]mqtt.MessageHandler, len(p.handlers))
	for k, v := range p.handlers {
		handlers[k] = v
	}
	yieldErr := p.yieldErr
	p.mu.Unlock()

	for _, m := range queue {
		if h := handlers[m.Topic]; h != nil {
			_ = h(m.Topic, m.Payload)
		}
	}
	return yieldErr
}

// inject queues an inbound message for the next Yield.
func (p *fakeProtocol) inject(topic string, payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inbound = append(p.inbound, published{Topic: topic, Payload: payload})
}

func (p *fakeProtocol) publishedOn(topic string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, m := range p.published {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func (p *fakeProtocol) isConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// eventRecorder collects session events.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) SessionEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func (r *eventRecorder) count(kind EventKind) int {
	n := 0
	for _, k := range r.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}
