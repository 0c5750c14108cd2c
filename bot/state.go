package bot

// State is the lifecycle of one martingale session.
type State int32

const (
	StateIdle State = iota
	StateAwaitingEntry
	StateLadderPlaced
	StateMonitoring
	StateExitTriggered
	StateClosed
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:          "IDLE",
	StateAwaitingEntry: "AWAITING_ENTRY",
	StateLadderPlaced:  "LADDER_PLACED",
	StateMonitoring:    "MONITORING",
	StateExitTriggered: "EXIT_TRIGGERED",
	StateClosed:        "CLOSED",
	StateFailed:        "FAILED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// allowed lists the legal transitions. FAILED is reachable from any
// non-terminal state.
var allowed = map[State][]State{
	StateIdle:          {StateAwaitingEntry},
	StateAwaitingEntry: {StateLadderPlaced},
	StateLadderPlaced:  {StateMonitoring},
	StateMonitoring:    {StateExitTriggered},
	StateExitTriggered: {StateClosed},
}

func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}
