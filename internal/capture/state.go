package capture

import "fmt"

// State is a position in the capture cycle.
type State int

const (
	Idle State = iota
	Acquiring
	Capturing
	Submitting
	Complete
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Acquiring:
		return "acquiring"
	case Capturing:
		return "capturing"
	case Submitting:
		return "submitting"
	case Complete:
		return "complete"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Busy reports whether a cycle is running in this state.
func (s State) Busy() bool {
	return s == Acquiring || s == Capturing || s == Submitting
}
