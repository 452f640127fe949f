package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// Publish sends a message and waits for the broker to confirm it.
//
// QoS Levels:
//   - 0: Returns once the packet is written; MessageID is zero
//   - 1: Returns after PUBACK
//   - 2: Returns after PUBCOMP
//
// Parameters:
//   - ctx: Cancels the wait for acknowledgement
//   - topic: Concrete topic name, wildcards are not allowed
//   - payload: The message payload (max 1MB)
//   - qos: Quality of Service level
//   - retained: Whether the broker should retain the message
//
// Returns:
//   - DeliveryRef: Identifies the acknowledged message
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos QoS, retained bool) (DeliveryRef, error) {
	if err := ValidateTopicName(topic); err != nil {
		return DeliveryRef{}, err
	}
	if !qos.Valid() {
		return DeliveryRef{}, ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return DeliveryRef{}, fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return DeliveryRef{}, fmt.Errorf("%w: %w", ErrPublishFailed, ErrNotConnected)
	}

	timer := time.NewTimer(defaultPublishTimeout)
	defer timer.Stop()

	token := c.client.Publish(topic, byte(qos), retained, payload)
	select {
	case <-token.Done():
	case <-c.down:
		return DeliveryRef{}, fmt.Errorf("%w: %w: connection lost awaiting acknowledgement", ErrPublishFailed, ErrNotConnected)
	case <-ctx.Done():
		return DeliveryRef{}, fmt.Errorf("%w: %w", ErrPublishFailed, ctx.Err())
	case <-timer.C:
		return DeliveryRef{}, fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}

	if err := token.Error(); err != nil {
		if errors.Is(err, pahomqtt.ErrNotConnected) {
			return DeliveryRef{}, fmt.Errorf("%w: %w", ErrPublishFailed, ErrNotConnected)
		}
		return DeliveryRef{}, fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	ref := DeliveryRef{Topic: topic, QoS: qos}
	if pt, ok := token.(*pahomqtt.PublishToken); ok {
		ref.MessageID = pt.MessageID()
	}
	return ref, nil
}
