package agent

// State is the lifecycle position of an agent.
type State int

const (
	// StateIdle means no eligible trigger is pending.
	StateIdle State = iota
	// StateTriggered means the agent is eligible and awaits scheduling.
	// Multiple arrivals while Triggered collapse into one pending trigger.
	StateTriggered
	// StateProcessing means an activation is in flight. At most one
	// activation runs per agent at any time.
	StateProcessing
	// StateRemoved is terminal. An in-flight activation may finish but its
	// outputs are suppressed.
	StateRemoved
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTriggered:
		return "triggered"
	case StateProcessing:
		return "processing"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}
