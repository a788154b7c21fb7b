package peer

// State is the lifecycle phase of a Manager.
type State int32

const (
	// StateIdle means nothing is bound and no peer is connected.
	StateIdle State = iota
	// StateListening means the server socket is accepting connections.
	StateListening
	// StateHandshaking means a connection is being authenticated.
	StateHandshaking
	// StateConnected means a peer session is live.
	StateConnected
	// StateRenewing means the session is being torn down for renewal.
	StateRenewing
	// StateClosed is terminal for the instance.
	StateClosed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateRenewing:
		return "renewing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}
