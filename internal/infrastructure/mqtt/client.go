package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Client speaks MQTT 3.1.1 over a connection owned by someone else.
//
// It wraps paho.mqtt.golang, but never dials or reconnects on its own: the
// socket comes from a ConnSource and reconnection is left to the caller.
// Inbound messages are queued by paho's goroutines and dispatched on the
// caller's goroutine by Yield.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Message handlers run only inside Yield, on the goroutine calling it.
type Client struct {
	conns          ConnSource
	commandTimeout time.Duration

	// client is the paho session; nil between Disconnect and Connect.
	client pahomqtt.Client
	mu     sync.RWMutex

	// subscriptions tracks the topics subscribed in this session.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	// connected tracks current connection state.
	connected bool
	connMu    sync.RWMutex

	// onConnectionLost is invoked from paho's goroutine when the link drops.
	onConnectionLost func(err error)
	callbackMu       sync.RWMutex

	// logger for error/panic logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex

	inbox inbox
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// subscription holds subscription details.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked by Yield on the caller's goroutine.
//
// Parameters:
//   - topic: The topic the message was received on (wildcards expanded)
//   - payload: The raw message payload
//
// Returns:
//   - error: Logged but does not affect message acknowledgment
type MessageHandler func(topic string, payload []byte) error

// New creates a disconnected client speaking over the connections src hands out.
//
// Parameters:
//   - src: Source of the established socket (usually transport.TCP)
//   - commandTimeout: Maximum wait for each broker acknowledgement; zero selects 1s
func New(src ConnSource, commandTimeout time.Duration) *Client {
	if commandTimeout <= 0 {
		commandTimeout = defaultCommandTimeout
	}
	c := &Client{
		conns:          src,
		commandTimeout: commandTimeout,
		subscriptions:  make(map[string]subscription),
	}
	c.inbox.notify = make(chan struct{}, 1)
	return c
}

// Connect performs the MQTT CONNECT exchange over the source's socket.
//
// It performs the following setup:
//  1. Builds paho options (client ID, credentials, will, keep-alive)
//  2. Sends CONNECT and waits for CONNACK, bounded by ctx and the command timeout
//  3. Marks the session connected
//
// Parameters:
//   - ctx: Context for cancellation
//   - opts: Session identity, credentials and optional last will
//
// Returns:
//   - error: ErrConnectionFailed (with ErrTimeout when no CONNACK arrived)
func (c *Client) Connect(ctx context.Context, opts ConnectOptions) error {
	if opts.ClientID == "" {
		return ErrInvalidClientID
	}
	if opts.Will != nil {
		if opts.Will.Topic == "" {
			return fmt.Errorf("%w: will %w", ErrConnectionFailed, ErrInvalidTopic)
		}
		if opts.Will.QoS > maxQoS {
			return fmt.Errorf("%w: will %w", ErrConnectionFailed, ErrInvalidQoS)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return ErrAlreadyConnected
	}

	po := buildClientOptions(c.conns, opts, c.commandTimeout)
	po.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleConnectionLost(err)
	})

	client := pahomqtt.NewClient(po)
	if err := c.wait(ctx, client.Connect()); err != nil {
		// paho may still own goroutines after a timed-out connect.
		client.Disconnect(0)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.client = client
	c.inbox.reset()

	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return nil
}

// Disconnect sends DISCONNECT, waits up to the command timeout for pending
// work and forgets the session. It never closes the underlying socket.
// Calling it on a disconnected client is a no-op.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.subMu.Lock()
	c.subscriptions = make(map[string]subscription)
	c.subMu.Unlock()

	if client == nil {
		return nil
	}

	client.Disconnect(uint(c.commandTimeout / time.Millisecond))
	return nil
}

// handleConnectionLost is called by paho when the connection drops.
func (c *Client) handleConnectionLost(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.inbox.wake()

	c.callbackMu.RLock()
	callback := c.onConnectionLost
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// HealthCheck verifies the MQTT connection is alive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && client != nil && client.IsConnectionOpen()
}

// SetOnConnectionLost sets a callback invoked when the connection drops.
// The error parameter describes why the connection was lost.
func (c *Client) SetOnConnectionLost(callback func(err error)) {
	c.callbackMu.Lock()
	c.onConnectionLost = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for error and panic logging.
// If not set, errors in handlers are silently ignored.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// session returns the live paho client or ErrNotConnected.
func (c *Client) session() (pahomqtt.Client, error) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil || !c.IsConnected() {
		return nil, ErrNotConnected
	}
	return client, nil
}

// wait blocks until token completes, ctx ends or the command timeout passes.
func (c *Client) wait(ctx context.Context, token pahomqtt.Token) error {
	timer := time.NewTimer(c.commandTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		err := token.Error()
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("%w: no acknowledgement after %v", ErrTimeout, c.commandTimeout)
	}
}
