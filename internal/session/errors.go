package session

import "errors"

// Domain-specific errors for session operations.
var (
	// ErrDispatch wraps failures raised by a Handler. They are logged and
	// never propagated to the MQTT client.
	ErrDispatch = errors.New("session: event handler failed")

	// ErrConnectionLost is the cause reported when the connection drops.
	ErrConnectionLost = errors.New("session: connection lost")

	// ErrSessionClosed is returned for operations on a session that has ended.
	ErrSessionClosed = errors.New("session: closed")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("session: already started")

	// ErrInvalidConfig is returned by Build for an unusable Config.
	ErrInvalidConfig = errors.New("session: invalid config")
)
