package acquisition

import "fmt"

// State is the lifecycle state of an acquisition session.
type State int32

// States of a session. Starting and Reconfiguring only last while the bus is being configured.
const (
	StateStopped State = iota
	StateStarting
	StateStreaming
	StateReconfiguring
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateStreaming:
		return "streaming"
	case StateReconfiguring:
		return "reconfiguring"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Running reports whether a session owns the bus.
func (s State) Running() bool {
	return s != StateStopped
}
