package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

// Client wraps paho.mqtt.golang for one subscriber session.
//
// A Client never reconnects. Once the connection is lost or closed it stays
// down and the owner decides what happens next.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - A zero Client is valid: IsConnected reports false and Close is a no-op.
type Client struct {
	client pahomqtt.Client
	addr   BrokerAddress
	opts   Options

	// subscriptions tracks filters the broker accepted.
	subscriptions map[string]Subscription
	subMu         sync.RWMutex

	// down is closed on connection loss or Close.
	down     chan struct{}
	downOnce sync.Once

	closed bool
	mu     sync.Mutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler is the callback signature for received messages.
//
// Handlers run on paho's router goroutine, one at a time in arrival order.
// A handler that blocks holds back later messages for the same client.
//
// Returns:
//   - error: Logged but does not affect message acknowledgment
type MessageHandler func(msg Message) error

// Connect establishes a connection to the MQTT broker.
//
// The call blocks until the broker answers CONNACK, the connect timeout
// elapses, or ctx is done. There is no retry.
//
// Parameters:
//   - ctx: Cancels a pending connect
//   - addr: Broker endpoint; secure schemes need opts.Transport
//   - creds: Username and password, empty for anonymous access
//   - opts: Client identity, timeouts and callbacks
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: ErrConnectionFailed wrapped with ErrTimeout, ErrAuthRejected,
//     ErrNetworkUnreachable or ErrTransportRequired
func Connect(ctx context.Context, addr BrokerAddress, creds Credentials, opts Options) (*Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w: %w", ErrConnectionFailed, ErrTimeout, err)
	}
	if addr.Secure() && opts.Transport == nil {
		return nil, fmt.Errorf("%w: %w: %s", ErrConnectionFailed, ErrTransportRequired, addr.URL())
	}

	popts := buildClientOptions(addr, creds, opts)

	c := &Client{
		addr:          addr,
		opts:          opts,
		subscriptions: make(map[string]Subscription),
		down:          make(chan struct{}),
	}

	popts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleConnectionLost(err)
	})
	if opts.DefaultHandler != nil {
		popts.SetDefaultPublishHandler(c.wrapHandler(opts.DefaultHandler))
	}

	c.client = pahomqtt.NewClient(popts)

	timeout := popts.ConnectTimeout
	timer := time.NewTimer(timeout + connectGrace)
	defer timer.Stop()

	token := c.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		c.abandon()
		return nil, fmt.Errorf("%w: %w: %w", ErrConnectionFailed, ErrTimeout, ctx.Err())
	case <-timer.C:
		c.abandon()
		return nil, fmt.Errorf("%w: %w: no CONNACK after %v", ErrConnectionFailed, ErrTimeout, timeout)
	}

	if err := token.Error(); err != nil {
		var rc byte
		if ct, ok := token.(*pahomqtt.ConnectToken); ok {
			rc = ct.ReturnCode()
		}
		c.markDown()
		return nil, classifyConnectError(rc, err)
	}

	return c, nil
}

// classifyConnectError maps a failed connect onto the error kinds.
func classifyConnectError(rc byte, err error) error {
	switch {
	case rc == packets.ErrRefusedBadUsernameOrPassword || rc == packets.ErrRefusedNotAuthorised:
		return fmt.Errorf("%w: %w: %w", ErrConnectionFailed, ErrAuthRejected, err)
	case isTimeout(err):
		return fmt.Errorf("%w: %w: %w", ErrConnectionFailed, ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %w: %w", ErrConnectionFailed, ErrNetworkUnreachable, err)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// abandon stops a connect that is still in progress. paho finishes the
// attempt in the background and tears the socket down.
func (c *Client) abandon() {
	c.markDown()
	go c.client.Disconnect(0)
}

// handleConnectionLost is called by paho on its own goroutine.
func (c *Client) handleConnectionLost(err error) {
	c.markDown()

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	if c.opts.OnConnectionLost != nil {
		c.opts.OnConnectionLost(err)
	}
}

func (c *Client) markDown() {
	c.downOnce.Do(func() { close(c.down) })
}

// Close gracefully disconnects from the MQTT broker.
//
// It is idempotent and safe to call on a zero Client or after the
// connection was lost.
//
// Returns:
//   - error: Always nil; kept for io.Closer compatibility
func (c *Client) Close() error {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	if c.closed || c.client == nil {
		c.closed = true
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.client.IsConnectionOpen() {
		c.client.Disconnect(defaultDisconnectQuiesce)
	}
	c.markDown()

	return nil
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
		return fmt.Errorf("%w: %s", ErrNotConnected, c.addr)
	}

	return nil
}

// IsConnected returns the current connection state without blocking.
func (c *Client) IsConnected() bool {
	if c == nil || c.client == nil {
		return false
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	return !closed && c.client.IsConnectionOpen()
}

// ClientID returns the identity presented to the broker.
func (c *Client) ClientID() string {
	return c.opts.ClientID
}

// wrapHandler adapts a MessageHandler to paho, adding panic recovery and
// optional logging. The payload is copied so handlers may retain it.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, m pahomqtt.Message) {
		msg := Message{
			Topic:     m.Topic(),
			Payload:   append([]byte(nil), m.Payload()...),
			QoS:       QoS(m.Qos()),
			MessageID: m.MessageID(),
			Duplicate: m.Duplicate(),
			Retained:  m.Retained(),
		}

		defer func() {
			if r := recover(); r != nil {
				if logger := c.opts.Logger; logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic,
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg); err != nil {
			if logger := c.opts.Logger; logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic,
					"error", err,
				)
			}
		}
	}
}
