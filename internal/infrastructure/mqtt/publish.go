package mqtt

import (
	"context"
	"fmt"

	"github.com/TheThingsArchive/ttn-gateway-connector/internal/infrastructure/config"
)

// maxPayloadSize matches the transport's frame limit so a payload that
// passes IsWriteReady is never refused here.
const maxPayloadSize = config.MaxFrameSize

// Publish sends a message to the specified MQTT topic and waits for the
// broker's acknowledgement (for QoS above 0). Messages are never retained
// and never retried.
//
// Parameters:
//   - topic: The topic to publish to (e.g., "office/up")
//   - payload: The encoded message (max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//
// QoS Levels:
//   - 0: At most once (fire and forget)
//   - 1: At least once (guaranteed delivery, may duplicate)
//   - 2: Exactly once (guaranteed, no duplicates, higher overhead)
//
// Returns:
//   - error: ErrPublishFailed, with ErrTimeout when no acknowledgement arrived
//
// Example:
//
//	err := client.Publish(mqtt.Topics{}.Uplink("office"), payload, 1)
func (c *Client) Publish(topic string, payload []byte, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	client, err := c.session()
	if err != nil {
		return err
	}

	token := client.Publish(topic, qos, false, payload)
	if err := c.wait(context.Background(), token); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}
