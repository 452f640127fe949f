package mqtt

import (
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connection constants.
const (
	// defaultConnectTimeout applies when Options.ConnectTimeout is zero.
	defaultConnectTimeout = 300 * time.Second

	// connectGrace is added to the connect timeout before the token wait gives
	// up. paho enforces the timeout on the socket; this is the backstop.
	connectGrace = 2 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 30 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// protocolVersion pins MQTT 3.1.1. Without it paho retries at 3.1 on
	// failure, doubling the time a connect can take.
	protocolVersion = 4
)

// Store persists in-flight packets across process restarts. It is paho's
// Store interface; database.InflightStore implements it.
type Store = pahomqtt.Store

// Options configures a single client connection.
type Options struct {
	// ClientID identifies the session to the broker. The broker evicts an
	// existing connection that uses the same id.
	ClientID string

	// CleanSession discards broker-side session state on connect.
	CleanSession bool

	// ConnectTimeout bounds dial plus the CONNECT/CONNACK exchange.
	ConnectTimeout time.Duration

	// KeepAlive is the PINGREQ interval; zero disables keepalive.
	KeepAlive time.Duration

	// Transport is required for secure broker addresses.
	Transport *Transport

	// Store persists in-flight QoS 1/2 packets. nil selects paho's memory store.
	Store Store

	// OnConnectionLost is invoked on its own goroutine after an unexpected
	// disconnect. It is not called for Close.
	OnConnectionLost func(err error)

	// DefaultHandler receives messages matching no subscription, such as
	// queued deliveries for a persistent session that arrive before Subscribe.
	DefaultHandler MessageHandler

	// Logger receives handler errors and recovered panics. Optional.
	Logger Logger
}

// buildClientOptions creates paho MQTT options for one connection.
//
// This configures:
//   - Broker URL and client identification
//   - Credentials through a provider so the password is not copied into
//     long-lived option fields
//   - No automatic reconnect or connect retry
//   - TLS configuration for secure addresses
//   - Ordered delivery, so a slow handler applies backpressure
func buildClientOptions(addr BrokerAddress, creds Credentials, opts Options) *pahomqtt.ClientOptions {
	popts := pahomqtt.NewClientOptions()

	popts.AddBroker(addr.URL())
	popts.SetClientID(opts.ClientID)

	if !creds.Empty() {
		popts.SetCredentialsProvider(func() (string, string) {
			return creds.Username, creds.Password
		})
	}

	popts.SetCleanSession(opts.CleanSession)
	popts.SetProtocolVersion(protocolVersion)

	// Connection loss is reported to the session, which does not reconnect.
	popts.SetAutoReconnect(false)
	popts.SetConnectRetry(false)

	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	popts.SetConnectTimeout(timeout)
	popts.SetKeepAlive(opts.KeepAlive)

	popts.SetOrderMatters(true)

	if addr.Secure() && opts.Transport != nil {
		popts.SetTLSConfig(opts.Transport.tlsConfigFor(addr.Host))
	}

	if opts.Store != nil {
		popts.SetStore(opts.Store)
	}

	return popts
}
