package sessions

import "fmt"

// State of one trader.
type State int

const (
	StateCreated State = iota
	StateInitializing
	StateReady
	StateRunning
	StatePaused
	StateStopping
	StateStopped
	StateError
)

var stateNames = [...]string{
	StateCreated:      "CREATED",
	StateInitializing: "INITIALIZING",
	StateReady:        "READY",
	StateRunning:      "RUNNING",
	StatePaused:       "PAUSED",
	StateStopping:     "STOPPING",
	StateStopped:      "STOPPED",
	StateError:        "ERROR",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal states leave only through an explicit restart.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateError
}

// Any state may move to ERROR; STOPPED and ERROR re-enter INITIALIZING on restart.
var transitions = map[State][]State{
	StateCreated:      {StateInitializing},
	StateInitializing: {StateReady},
	StateReady:        {StateRunning, StateStopping},
	StateRunning:      {StatePaused, StateStopping},
	StatePaused:       {StateRunning, StateStopping},
	StateStopping:     {StateStopped},
	StateStopped:      {StateInitializing},
	StateError:        {StateInitializing},
}

// CanTransition reports whether from -> to is a declared edge.
func CanTransition(from, to State) bool {
	if to == StateError {
		return from != StateError
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
