package session

// State is the connection lifecycle state. A session is in exactly one
// state at any time.
type State int

const (
	Closed State = iota
	Connecting
	Open
	Reconnecting
	Closing
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Connecting:
		return "CONNECTING"
	case Open:
		return "OPEN"
	case Reconnecting:
		return "RECONNECTING"
	case Closing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}
