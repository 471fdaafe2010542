package collab

// State is the session lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingOpenAck
	StateSynchronized
	StateReconciling
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingOpenAck:
		return "awaiting_open_ack"
	case StateSynchronized:
		return "synchronized"
	case StateReconciling:
		return "reconciling"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}
