package mqtt

import (
	"context"
	"errors"
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// subackFailure is the SUBACK return code for a refused filter.
const subackFailure = 0x80

// Subscribe registers a handler for messages matching filter.
//
// Topics can include MQTT wildcards:
//   - + (single-level): "tk/sensor/+/sandfang" matches any logger
//   - # (multi-level): "tk/sensor/#" matches every sensor topic
//
// The filter is checked locally first; the broker has the final say through
// its SUBACK. A refused filter leaves the client connected and usable for
// other subscriptions. There is no timeout of its own: the call returns on
// SUBACK, connection loss, or when ctx is done.
//
// Parameters:
//   - ctx: Cancels the wait for SUBACK
//   - filter: The topic filter to subscribe to
//   - qos: Maximum QoS level for received messages
//   - handler: Callback invoked for each message
//
// Returns:
//   - Subscription: The filter with requested and granted QoS
//   - error: ErrSubscribeFailed wrapped with ErrInvalidTopicFilter or
//     ErrNotConnected, or ErrInvalidQoS
func (c *Client) Subscribe(ctx context.Context, filter string, qos QoS, handler MessageHandler) (Subscription, error) {
	if !qos.Valid() {
		return Subscription{}, ErrInvalidQoS
	}
	if handler == nil {
		return Subscription{}, fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if err := ValidateTopicFilter(filter); err != nil {
		return Subscription{}, fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	if !c.IsConnected() {
		return Subscription{}, fmt.Errorf("%w: %w", ErrSubscribeFailed, ErrNotConnected)
	}

	token := c.client.Subscribe(filter, byte(qos), c.wrapHandler(handler))
	select {
	case <-token.Done():
	case <-c.down:
		return Subscription{}, fmt.Errorf("%w: %w: connection lost awaiting SUBACK", ErrSubscribeFailed, ErrNotConnected)
	case <-ctx.Done():
		return Subscription{}, fmt.Errorf("%w: %w", ErrSubscribeFailed, ctx.Err())
	}

	if err := token.Error(); err != nil {
		if errors.Is(err, pahomqtt.ErrNotConnected) {
			return Subscription{}, fmt.Errorf("%w: %w", ErrSubscribeFailed, ErrNotConnected)
		}
		return Subscription{}, fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	granted := byte(qos)
	if st, ok := token.(*pahomqtt.SubscribeToken); ok {
		if code, found := st.Result()[filter]; found {
			granted = code
		}
	}
	if granted == subackFailure {
		c.dropRoute(filter)
		return Subscription{}, fmt.Errorf("%w: %w: broker refused %q", ErrSubscribeFailed, ErrInvalidTopicFilter, filter)
	}

	sub := Subscription{Topic: filter, QoS: qos, Granted: QoS(granted)}

	c.subMu.Lock()
	c.subscriptions[filter] = sub
	c.subMu.Unlock()

	return sub, nil
}

// dropRoute removes the handler paho registered before the broker refused
// the filter. paho deletes the route as soon as the UNSUBSCRIBE is queued,
// so the token is not awaited.
func (c *Client) dropRoute(filter string) {
	if c.IsConnected() {
		c.client.Unsubscribe(filter)
	}
}

// HasSubscription checks if a subscription exists for the given filter.
//
// Note: This checks only the exact filter string, not pattern matching.
func (c *Client) HasSubscription(filter string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, exists := c.subscriptions[filter]
	return exists
}
