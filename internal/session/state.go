package session

// State represents where a session is in its lifecycle.
type State string

const (
	StateInit       State = "init"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateSubscribed State = "subscribed"
	StateLost       State = "lost"
	StateClosed     State = "closed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateLost || s == StateClosed
}

// Live reports whether the session holds, or is establishing, a connection.
func (s State) Live() bool {
	return !s.Terminal()
}

// canTransition encodes the lifecycle graph.
func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case StateConnecting:
		return from == StateInit
	case StateConnected:
		return from == StateConnecting
	case StateSubscribed:
		return from == StateConnected
	case StateLost:
		return from == StateConnected || from == StateSubscribed
	case StateClosed:
		return true
	default:
		return false
	}
}
