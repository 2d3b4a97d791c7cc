package link

import "time"

// State is the connection manager's lifecycle state.
type State int

const (
	Idle State = iota
	Connecting
	Open
	ClosedRetrying
	ClosedPolling
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case ClosedRetrying:
		return "closed-retrying"
	case ClosedPolling:
		return "closed-polling"
	default:
		return "unknown"
	}
}

// Mode is the short label shown to operators for a state.
func (s State) Mode() string {
	switch s {
	case Open:
		return "live"
	case ClosedPolling:
		return "polling"
	case Connecting:
		return "connecting"
	case ClosedRetrying:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Active reports whether the state belongs to a tracking session.
func (s State) Active() bool {
	return s != Idle
}

// StatusChange describes one state transition.
type StatusChange struct {
	State    State
	Previous State
	Key      string
	Attempt  int
	RetryIn  time.Duration
	Message  string
	At       time.Time
}

// Status is a point-in-time view of the manager.
type Status struct {
	State     State
	Mode      string
	Key       string
	Attempt   int
	LastFrame time.Time
	LastPong  time.Time
	LastError string
}
