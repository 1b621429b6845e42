package session

// State is the session lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	KeepAliveFailed
	Reconnecting
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case KeepAliveFailed:
		return "keepalive_failed"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}
