package pipeline

// State is the executor lifecycle state. Transitions:
// Created -> Setup -> Running -> Stopping -> Stopped, with Stopped -> Setup
// allowed for restart.
type State int

const (
	// StateCreated indicates the executor exists but stages are unresolved.
	StateCreated State = iota
	// StateSetup indicates all stages resolved, ready to start.
	StateSetup
	// StateRunning indicates workers are active.
	StateRunning
	// StateStopping indicates shutdown is in progress.
	StateStopping
	// StateStopped indicates a completed shutdown; Setup may run again.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSetup:
		return "setup"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
