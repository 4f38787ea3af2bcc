package mqtt

import (
	"context"
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// subackFailure is the SUBACK return code a broker uses to refuse a topic.
const subackFailure = 0x80

// Subscribe registers a handler for messages on the specified topic and
// waits for the broker's SUBACK.
//
// Topics can include MQTT wildcards:
//   - + (single-level): "+/up" matches the uplinks of every gateway
//   - # (multi-level): "office/#" matches every topic of one gateway
//
// Received messages are queued and the handler runs inside Yield, never on
// paho's goroutines.
//
// Parameters:
//   - topic: The topic pattern to subscribe to
//   - qos: Maximum QoS level for received messages (0, 1, or 2)
//   - handler: Callback function invoked for each message
//
// Returns:
//   - error: ErrSubscribeFailed on refusal, with ErrTimeout when no SUBACK arrived
//
// Example:
//
//	err := client.Subscribe(mqtt.Topics{}.Downlink("office"), 1,
//	    func(topic string, payload []byte) error {
//	        return handleDownlink(payload)
//	    })
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	client, err := c.session()
	if err != nil {
		return err
	}

	token := client.Subscribe(topic, qos, c.enqueueHandler(handler))
	if err := c.wait(context.Background(), token); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	if st, ok := token.(*pahomqtt.SubscribeToken); ok {
		if code, found := st.Result()[topic]; found && code == subackFailure {
			return fmt.Errorf("%w: broker refused %q", ErrSubscribeFailed, topic)
		}
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{
		topic:   topic,
		qos:     qos,
		handler: handler,
	}
	c.subMu.Unlock()

	return nil
}

// Unsubscribe removes a subscription and stops receiving messages for a topic.
//
// Messages already queued for the topic are still dispatched by the next Yield.
//
// Parameters:
//   - topic: The exact topic pattern that was subscribed to
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	client, err := c.session()
	if err != nil {
		return err
	}

	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()

	token := client.Unsubscribe(topic)
	if err := c.wait(context.Background(), token); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	return nil
}

// SubscriptionCount returns the number of active subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription checks if a subscription exists for the given topic.
//
// Note: This checks only the exact topic string, not pattern matching.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, exists := c.subscriptions[topic]
	return exists
}
