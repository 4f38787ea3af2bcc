package mqtt

import (
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// inbound is one received message waiting for Yield.
type inbound struct {
	topic   string
	payload []byte
	handler MessageHandler
}

// inbox buffers messages between paho's goroutines and Yield. It is
// unbounded so paho never blocks on a slow caller, which would stall
// acknowledgement processing.
type inbox struct {
	mu     sync.Mutex
	queue  []inbound
	notify chan struct{}
}

func (b *inbox) push(m inbound) {
	b.mu.Lock()
	b.queue = append(b.queue, m)
	b.mu.Unlock()
	b.wake()
}

// wake signals a waiting Yield without blocking.
func (b *inbox) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *inbox) drain() []inbound {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.queue
	b.queue = nil
	return out
}

// reset drops messages left over from a previous session.
func (b *inbox) reset() {
	b.drain()
	select {
	case <-b.notify:
	default:
	}
}

// enqueueHandler returns the paho callback that queues messages for handler.
func (c *Client) enqueueHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.inbox.push(inbound{
			topic:   msg.Topic(),
			payload: msg.Payload(),
			handler: handler,
		})
	}
}

// Yield is the cooperative poll point. It waits up to timeout for inbound
// traffic, then dispatches every queued message on the calling goroutine
// in arrival order. Keep-alive pings are handled by paho independently.
//
// Parameters:
//   - timeout: Maximum wait when nothing is queued; zero only drains
//
// Returns:
//   - error: ErrNotConnected before Connect, ErrConnectionLost once the link
//     dropped (queued messages are still dispatched first)
func (c *Client) Yield(timeout time.Duration) error {
	c.mu.RLock()
	started := c.client != nil
	c.mu.RUnlock()
	if !started {
		return ErrNotConnected
	}

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		select {
		case <-c.inbox.notify:
		case <-timer.C:
		}
		timer.Stop()
	}

	for _, m := range c.inbox.drain() {
		c.dispatch(m)
	}

	if !c.IsConnected() {
		return ErrConnectionLost
	}
	return nil
}

// dispatch runs one handler with panic recovery and optional logging.
func (c *Client) dispatch(m inbound) {
	defer func() {
		if r := recover(); r != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Error("MQTT handler panic recovered",
					"topic", m.topic,
					"panic", r,
				)
			}
		}
	}()

	if err := m.handler(m.topic, m.payload); err != nil {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT handler returned error",
				"topic", m.topic,
				"error", err,
			)
		}
	}
}
