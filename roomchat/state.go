package roomchat

// ConnectionState represents the current state of the chat connection.
type ConnectionState int

const (
	// StateDisconnected means no transport is live.
	StateDisconnected ConnectionState = iota

	// StateConnecting means a transport is being opened and is not ready yet.
	StateConnecting

	// StateConnected means the transport reported readiness.
	StateConnected
)

// String returns the string representation of a ConnectionState.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// StateEvent represents a state change event.
type StateEvent struct {
	OldState ConnectionState
	NewState ConnectionState
}
