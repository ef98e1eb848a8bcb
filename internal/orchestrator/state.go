package orchestrator

// State represents the current phase of the playback state machine
type State string

// Playback state constants
const (
	StateIdle      State = "idle"      // No active pipeline
	StateJoining   State = "joining"   // Establishing the sink connection
	StatePreparing State = "preparing" // Resolving a playable input into pipeline parameters
	StateStreaming State = "streaming" // Pipeline running under an attempt token
	StateSkipping  State = "skipping"  // User-triggered advance in progress
	StateStopping  State = "stopping"  // Explicit stop/clear tearing everything down
)

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid checks if the state is a known valid value
func (s State) IsValid() bool {
	switch s {
	case StateIdle, StateJoining, StatePreparing, StateStreaming, StateSkipping, StateStopping:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks if a transition from the current state to newState is valid
func (s State) CanTransitionTo(newState State) bool {
	// Stopping is reachable from any non-idle state
	if newState == StateStopping {
		return s != StateIdle
	}

	switch s {
	case StateIdle:
		// From idle, playback starts by joining the sink
		return newState == StateJoining
	case StateJoining:
		// A failed join falls back to idle; success moves on to preparing
		return newState == StatePreparing || newState == StateIdle
	case StatePreparing:
		// Preparation failure advances to the next item (stays preparing)
		// or empties the queue
		return newState == StateStreaming || newState == StatePreparing || newState == StateIdle
	case StateStreaming:
		// Natural end advances, skip interrupts
		return newState == StatePreparing || newState == StateSkipping || newState == StateIdle
	case StateSkipping:
		// The sink stays connected, so skip goes straight to preparing
		return newState == StatePreparing || newState == StateIdle
	case StateStopping:
		return newState == StateIdle
	default:
		return false
	}
}
