package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
//
// Failures carry both a category and a kind, for example a refused login is
// wrapped as "ErrConnectionFailed: ErrAuthRejected" so callers can match either.
var (
	// ErrCertificateLoad is returned when the CA file cannot be read or holds
	// no parseable X.509 certificate.
	ErrCertificateLoad = errors.New("mqtt: certificate load failed")

	// ErrTrustStore is returned when a trust pool cannot be assembled from
	// otherwise valid certificates.
	ErrTrustStore = errors.New("mqtt: trust store initialisation failed")

	// ErrTransportRequired is returned when a secure broker address is used
	// without a Transport.
	ErrTransportRequired = errors.New("mqtt: secure address requires a transport")

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrTimeout is returned when connect does not complete within the configured timeout.
	ErrTimeout = errors.New("mqtt: operation timed out")

	// ErrAuthRejected is returned when the broker refuses the credentials
	// (CONNACK return code 4 or 5).
	ErrAuthRejected = errors.New("mqtt: authentication rejected")

	// ErrNetworkUnreachable covers every other dial or handshake failure.
	ErrNetworkUnreachable = errors.New("mqtt: broker unreachable")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidTopicFilter is returned for filters rejected locally or by the broker.
	ErrInvalidTopicFilter = errors.New("mqtt: invalid topic filter")

	// ErrNotConnected is returned when attempting operations on a disconnected client.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrInvalidTopic is returned when a publish topic is empty or contains wildcards.
	ErrInvalidTopic = errors.New("mqtt: invalid publish topic")
)
