package mqtt

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
)

// QoS is the MQTT delivery guarantee requested for a subscription or publish.
type QoS byte

// Delivery guarantees.
const (
	// AtMostOnce is fire and forget; messages may be lost.
	AtMostOnce QoS = 0

	// AtLeastOnce retransmits until acknowledged; duplicates are possible and
	// consumers must tolerate them.
	AtLeastOnce QoS = 1

	// ExactlyOnce uses the four-packet handshake.
	ExactlyOnce QoS = 2
)

// Valid reports whether q is 0, 1 or 2.
func (q QoS) Valid() bool {
	return q <= ExactlyOnce
}

func (q QoS) String() string {
	switch q {
	case AtMostOnce:
		return "at-most-once"
	case AtLeastOnce:
		return "at-least-once"
	case ExactlyOnce:
		return "exactly-once"
	default:
		return "qos(" + strconv.Itoa(int(q)) + ")"
	}
}

// BrokerAddress identifies a broker endpoint. It is an immutable value.
type BrokerAddress struct {
	Scheme string // tcp, ssl, tls, mqtts, ws, wss
	Host   string
	Port   int
}

// Secure reports whether the scheme implies an encrypted transport.
func (a BrokerAddress) Secure() bool {
	switch strings.ToLower(a.Scheme) {
	case "ssl", "tls", "mqtts", "wss":
		return true
	default:
		return false
	}
}

// URL renders the address in the scheme://host:port form paho expects.
func (a BrokerAddress) URL() string {
	scheme := a.Scheme
	if scheme == "" {
		scheme = "tcp"
	}
	return scheme + "://" + net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

func (a BrokerAddress) String() string {
	return a.URL()
}

// Credentials authenticate a client against the broker.
//
// The password never appears in String, GoString or structured log output.
type Credentials struct {
	Username string
	Password string
}

const redacted = "[REDACTED]"

func (c Credentials) String() string {
	if c.Password == "" {
		return fmt.Sprintf("{username:%q}", c.Username)
	}
	return fmt.Sprintf("{username:%q password:%s}", c.Username, redacted)
}

// GoString keeps %#v from printing the password.
func (c Credentials) GoString() string {
	return "mqtt.Credentials" + c.String()
}

// LogValue implements slog.LogValuer.
func (c Credentials) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("username", c.Username)}
	if c.Password != "" {
		attrs = append(attrs, slog.String("password", redacted))
	}
	return slog.GroupValue(attrs...)
}

// Empty reports whether no username was supplied (anonymous connect).
func (c Credentials) Empty() bool {
	return c.Username == ""
}

// Subscription records a filter and the QoS the broker granted for it.
type Subscription struct {
	Topic   string
	QoS     QoS // requested
	Granted QoS
}

// DeliveryRef identifies an outbound message whose delivery the broker confirmed.
type DeliveryRef struct {
	MessageID uint16
	Topic     string
	QoS       QoS
}

// Message is an inbound application message.
type Message struct {
	Topic     string
	Payload   []byte
	QoS       QoS
	MessageID uint16
	Duplicate bool
	Retained  bool
}
