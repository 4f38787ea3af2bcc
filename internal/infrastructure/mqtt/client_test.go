package mqtt

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"
)

// =============================================================================
// Scripted broker
// =============================================================================

// connSource hands out a fixed connection.
type connSource struct {
	conn net.Conn
}

func (s connSource) Conn() net.Conn { return s.conn }

// scriptedBroker is a single-connection MQTT peer driven by paho's own
// packet codec. It acknowledges everything unless told otherwise.
type scriptedBroker struct {
	t    *testing.T
	conn net.Conn

	// refuseConnect is the CONNACK return code; 0 accepts.
	refuseConnect byte
	// refuseTopics get a 0x80 SUBACK return code.
	refuseTopics map[string]bool
	// silent drops every packet without answering.
	silent atomic.Bool

	writeMu sync.Mutex

	connects    chan *packets.ConnectPacket
	publishes   chan *packets.PublishPacket
	subscribes  chan *packets.SubscribePacket
	disconnects chan struct{}
}

// startBroker returns a broker bound to one side of a loopback TCP pair and
// a client for the other side.
func startBroker(t *testing.T, setup func(*scriptedBroker)) (*scriptedBroker, *Client) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	serverConn, ok := <-accepted
	if !ok {
		t.Fatal("Accept() failed")
	}

	b := &scriptedBroker{
		t:            t,
		conn:         serverConn,
		refuseTopics: make(map[string]bool),
		connects:     make(chan *packets.ConnectPacket, 4),
		publishes:    make(chan *packets.PublishPacket, 16),
		subscribes:   make(chan *packets.SubscribePacket, 4),
		disconnects:  make(chan struct{}, 1),
	}
	if setup != nil {
		setup(b)
	}
	go b.serve()

	t.Cleanup(func() {
		serverConn.Close()
		clientConn.Close()
	})

	return b, New(connSource{conn: clientConn}, 500*time.Millisecond)
}

func (b *scriptedBroker) write(p packets.ControlPacket) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = p.Write(b.conn)
}

func (b *scriptedBroker) serve() {
	for {
		cp, err := packets.ReadPacket(b.conn)
		if err != nil {
			return
		}
		if b.silent.Load() {
			continue
		}

		switch p := cp.(type) {
		case *packets.ConnectPacket:
			b.connects <- p
			ack := packets.NewControlPacket(packets.Connack).(*packets.ConnackPacket)
			ack.ReturnCode = b.refuseConnect
			b.write(ack)
		case *packets.SubscribePacket:
			b.subscribes <- p
			ack := packets.NewControlPacket(packets.Suback).(*packets.SubackPacket)
			ack.MessageID = p.MessageID
			for i, topic := range p.Topics {
				code := p.Qoss[i]
				if b.refuseTopics[topic] {
					code = subackFailure
				}
				ack.ReturnCodes = append(ack.ReturnCodes, code)
			}
			b.write(ack)
		case *packets.UnsubscribePacket:
			ack := packets.NewControlPacket(packets.Unsuback).(*packets.UnsubackPacket)
			ack.MessageID = p.MessageID
			b.write(ack)
		case *packets.PublishPacket:
			b.publishes <- p
			if p.Qos == 1 {
				ack := packets.NewControlPacket(packets.Puback).(*packets.PubackPacket)
				ack.MessageID = p.MessageID
				b.write(ack)
			}
		case *packets.PingreqPacket:
			b.write(packets.NewControlPacket(packets.Pingresp))
		case *packets.DisconnectPacket:
			b.disconnects <- struct{}{}
		}
	}
}

// deliver sends a QoS 0 PUBLISH to the client.
func (b *scriptedBroker) deliver(topic string, payload []byte) {
	p := packets.NewControlPacket(packets.Publish).(*packets.PublishPacket)
	p.TopicName = topic
	p.Payload = payload
	b.write(p)
}

func connectClient(t *testing.T, c *Client, opts ConnectOptions) {
	t.Helper()
	if err := c.Connect(context.Background(), opts); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { c.Disconnect() })
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	b, c := startBroker(t, nil)

	connectClient(t, c, ConnectOptions{
		ClientID:  "office",
		KeepAlive: 20 * time.Second,
		Username:  "office",
		Password:  []byte("secret"),
		Will: &Will{
			Topic:   TopicDisconnect,
			Payload: []byte{0x0a, 0x06, 'o', 'f', 'f', 'i', 'c', 'e'},
			QoS:     1,
		},
	})

	if !c.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}

	p := <-b.connects
	if p.ClientIdentifier != "office" {
		t.Errorf("ClientIdentifier = %q, want %q", p.ClientIdentifier, "office")
	}
	if p.Keepalive != 20 {
		t.Errorf("Keepalive = %d, want 20", p.Keepalive)
	}
	if !p.UsernameFlag || p.Username != "office" || string(p.Password) != "secret" {
		t.Errorf("credentials = %q/%q, want office/secret", p.Username, p.Password)
	}
	if !p.WillFlag || p.WillTopic != TopicDisconnect || p.WillQos != 1 || p.WillRetain {
		t.Errorf("will = flag %v topic %q qos %d retain %v", p.WillFlag, p.WillTopic, p.WillQos, p.WillRetain)
	}
	if string(p.WillMessage[2:]) != "office" {
		t.Errorf("WillMessage = %x", p.WillMessage)
	}
	if !p.CleanSession {
		t.Error("CleanSession = false, want true")
	}
}

func TestConnectAnonymousWithoutWill(t *testing.T) {
	b, c := startBroker(t, nil)

	connectClient(t, c, ConnectOptions{ClientID: "test"})

	p := <-b.connects
	if p.UsernameFlag || p.PasswordFlag {
		t.Error("anonymous connect sent credentials")
	}
	if p.WillFlag {
		t.Error("connect without will sent a will")
	}
	if p.Keepalive != uint16(defaultKeepAlive/time.Second) {
		t.Errorf("Keepalive = %d, want default %v", p.Keepalive, defaultKeepAlive)
	}
}

func TestConnectValidation(t *testing.T) {
	c := New(connSource{}, 0)

	tests := []struct {
		name string
		opts ConnectOptions
		want error
	}{
		{"empty client ID", ConnectOptions{}, ErrInvalidClientID},
		{"will without topic", ConnectOptions{ClientID: "x", Will: &Will{}}, ErrInvalidTopic},
		{"will QoS 3", ConnectOptions{ClientID: "x", Will: &Will{Topic: "t", QoS: 3}}, ErrInvalidQoS},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Connect(context.Background(), tt.opts); !errors.Is(err, tt.want) {
				t.Errorf("Connect() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestConnectNoTransport(t *testing.T) {
	c := New(connSource{}, 200*time.Millisecond)

	err := c.Connect(context.Background(), ConnectOptions{ClientID: "office"})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if !errors.Is(err, ErrNoTransport) {
		t.Errorf("Connect() error = %v, want ErrNoTransport", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after failed connect")
	}
}

func TestConnectRefused(t *testing.T) {
	_, c := startBroker(t, func(b *scriptedBroker) {
		b.refuseConnect = packets.ErrRefusedNotAuthorised
	})

	err := c.Connect(context.Background(), ConnectOptions{ClientID: "office"})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Errorf("Connect() error = %v, refusal must not be a timeout", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after refused connect")
	}
}

func TestConnectTimeout(t *testing.T) {
	_, c := startBroker(t, func(b *scriptedBroker) { b.silent.Store(true) })

	err := c.Connect(context.Background(), ConnectOptions{ClientID: "office"})
	if !errors.Is(err, ErrConnectionFailed) || !errors.Is(err, ErrTimeout) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed and ErrTimeout", err)
	}
}

func TestConnectTwice(t *testing.T) {
	_, c := startBroker(t, nil)
	connectClient(t, c, ConnectOptions{ClientID: "office"})

	if err := c.Connect(context.Background(), ConnectOptions{ClientID: "office"}); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect() error = %v, want ErrAlreadyConnected", err)
	}
}

func TestDisconnect(t *testing.T) {
	b, c := startBroker(t, nil)
	connectClient(t, c, ConnectOptions{ClientID: "office"})

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}

	select {
	case <-b.disconnects:
	case <-time.After(2 * time.Second):
		t.Error("broker did not receive DISCONNECT")
	}

	if c.IsConnected() {
		t.Error("IsConnected() = true after Disconnect")
	}
	if err := c.Disconnect(); err != nil {
		t.Errorf("second Disconnect() error = %v, want nil", err)
	}
}

func TestDisconnectKeepsSocketOpen(t *testing.T) {
	b, c := startBroker(t, nil)
	connectClient(t, c, ConnectOptions{ClientID: "office"})

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	<-b.disconnects

	// The socket belongs to the transport; a fresh session can reuse it.
	if err := c.Connect(context.Background(), ConnectOptions{ClientID: "office"}); err != nil {
		t.Fatalf("Connect() after Disconnect error = %v", err)
	}
	<-b.connects
	<-b.connects
	if !c.IsConnected() {
		t.Error("IsConnected() = false after reconnect on the same socket")
	}
}

// =============================================================================
// HealthCheck Tests
// =============================================================================

func TestHealthCheck(t *testing.T) {
	_, c := startBroker(t, nil)

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() before Connect error = %v, want ErrNotConnected", err)
	}

	connectClient(t, c, ConnectOptions{ClientID: "office"})
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v, want nil", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() expected error for cancelled context")
	}
}

// =============================================================================
// Publish Tests
// =============================================================================

func TestPublish(t *testing.T) {
	b, c := startBroker(t, nil)
	connectClient(t, c, ConnectOptions{ClientID: "office"})

	if err := c.Publish(Topics{}.Uplink("office"), []byte{1, 2, 3}, 1); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	p := <-b.publishes
	if p.TopicName != "office/up" {
		t.Errorf("TopicName = %q, want %q", p.TopicName, "office/up")
	}
	if p.Qos != 1 {
		t.Errorf("Qos = %d, want 1", p.Qos)
	}
	if p.Retain {
		t.Error("Retain = true, want false")
	}
}

func TestPublishValidation(t *testing.T) {
	c := New(connSource{}, 0)

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", nil, 1, ErrInvalidTopic},
		{"invalid QoS", "office/up", nil, 3, ErrInvalidQoS},
		{"payload too large", "office/up", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "office/up", []byte{1}, 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, tt.qos); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPublishTimeout(t *testing.T) {
	b, c := startBroker(t, nil)
	connectClient(t, c, ConnectOptions{ClientID: "office"})
	<-b.connects

	b.silent.Store(true)
	err := c.Publish("office/status", []byte{1}, 1)
	if !errors.Is(err, ErrPublishFailed) || !errors.Is(err, ErrTimeout) {
		t.Errorf("Publish() error = %v, want ErrPublishFailed and ErrTimeout", err)
	}
}

// =============================================================================
// Subscribe / Yield Tests
// =============================================================================

func TestSubscribeAndYield(t *testing.T) {
	b, c := startBroker(t, nil)
	connectClient(t, c, ConnectOptions{ClientID: "office"})

	var got []string
	err := c.Subscribe(Topics{}.Downlink("office"), 1, func(topic string, payload []byte) error {
		got = append(got, topic+"="+string(payload))
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !c.HasSubscription("office/down") || c.SubscriptionCount() != 1 {
		t.Error("subscription not tracked")
	}

	b.deliver("office/down", []byte("a"))
	b.deliver("office/down", []byte("b"))

	deadline := time.Now().Add(2 * time.Second)
	for len(got) < 2 && time.Now().Before(deadline) {
		if err := c.Yield(100 * time.Millisecond); err != nil {
			t.Fatalf("Yield() error = %v", err)
		}
	}

	if len(got) != 2 || got[0] != "office/down=a" || got[1] != "office/down=b" {
		t.Errorf("dispatched = %v, want [office/down=a office/down=b]", got)
	}
}

func TestYieldTimeoutWithoutTraffic(t *testing.T) {
	_, c := startBroker(t, nil)
	connectClient(t, c, ConnectOptions{ClientID: "office"})

	start := time.Now()
	if err := c.Yield(50 * time.Millisecond); err != nil {
		t.Fatalf("Yield() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("Yield() returned after %v, want about 50ms", elapsed)
	}
}

func TestYieldNotConnected(t *testing.T) {
	c := New(connSource{}, 0)
	if err := c.Yield(0); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Yield() error = %v, want ErrNotConnected", err)
	}
}

func TestYieldConnectionLost(t *testing.T) {
	b, c := startBroker(t, nil)

	lost := make(chan error, 1)
	c.SetOnConnectionLost(func(err error) { lost <- err })
	connectClient(t, c, ConnectOptions{ClientID: "office"})

	b.conn.Close()

	select {
	case <-lost:
	case <-time.After(2 * time.Second):
		t.Fatal("connection lost callback not invoked")
	}

	if err := c.Yield(10 * time.Millisecond); !errors.Is(err, ErrConnectionLost) {
		t.Errorf("Yield() error = %v, want ErrConnectionLost", err)
	}
}

func TestSubscribeRefused(t *testing.T) {
	_, c := startBroker(t, func(b *scriptedBroker) {
		b.refuseTopics["office/down"] = true
	})
	connectClient(t, c, ConnectOptions{ClientID: "office"})

	err := c.Subscribe("office/down", 1, func(string, []byte) error { return nil })
	if !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe() error = %v, want ErrSubscribeFailed", err)
	}
	if c.HasSubscription("office/down") {
		t.Error("refused subscription is tracked")
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := New(connSource{}, 0)
	handler := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		want    error
	}{
		{"empty topic", "", 1, handler, ErrInvalidTopic},
		{"invalid QoS", "office/down", 3, handler, ErrInvalidQoS},
		{"nil handler", "office/down", 1, nil, ErrSubscribeFailed},
		{"not connected", "office/down", 1, handler, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Subscribe(tt.topic, tt.qos, tt.handler); !errors.Is(err, tt.want) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestUnsubscribe(t *testing.T) {
	_, c := startBroker(t, nil)
	connectClient(t, c, ConnectOptions{ClientID: "office"})

	if err := c.Subscribe("office/down", 1, func(string, []byte) error { return nil }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := c.Unsubscribe("office/down"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v, want ErrInvalidTopic", err)
	}
}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func TestHandlerPanicAndError(t *testing.T) {
	logger := &recordingLogger{}
	c := New(connSource{}, 0)
	c.SetLogger(logger)

	// Dispatch directly: the recovery wrapper is independent of the broker.
	c.dispatch(inbound{topic: "office/down", handler: func(string, []byte) error { panic("boom") }})
	c.dispatch(inbound{topic: "office/down", handler: func(string, []byte) error { return errors.New("bad") }})

	if len(logger.errors) != 1 {
		t.Errorf("logged errors = %v, want one panic report", logger.errors)
	}
	if len(logger.warns) != 1 {
		t.Errorf("logged warnings = %v, want one handler error", logger.warns)
	}
}

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"TopicFor", TopicFor("office", "up"), "office/up"},
		{"Uplink", topics.Uplink("office"), "office/up"},
		{"Downlink", topics.Downlink("office"), "office/down"},
		{"Status", topics.Status("office"), "office/status"},
		{"Connect", topics.Connect(), "connect"},
		{"Disconnect", topics.Disconnect(), "disconnect"},
		{"AllUplinks", topics.AllUplinks(), "+/up"},
		{"AllDownlinks", topics.AllDownlinks(), "+/down"},
		{"AllStatus", topics.AllStatus(), "+/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestGatewayID(t *testing.T) {
	tests := []struct {
		topic  string
		want   string
		wantOK bool
	}{
		{"office/up", "office", true},
		{"eui-0102/status", "eui-0102", true},
		{"connect", "", false},
		{"/up", "", false},
		{"office/", "", false},
	}

	for _, tt := range tests {
		got, ok := GatewayID(tt.topic)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("GatewayID(%q) = %q, %v, want %q, %v", tt.topic, got, ok, tt.want, tt.wantOK)
		}
	}
}
