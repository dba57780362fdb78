package runner

import "fmt"

// ManagerState of the supervisor itself.
type ManagerState int

const (
	ManagerCreated ManagerState = iota
	ManagerInitializing
	ManagerRunning
	ManagerStopping
	ManagerStopped
	ManagerError
)

func (s ManagerState) String() string {
	switch s {
	case ManagerCreated:
		return "CREATED"
	case ManagerInitializing:
		return "INITIALIZING"
	case ManagerRunning:
		return "RUNNING"
	case ManagerStopping:
		return "STOPPING"
	case ManagerStopped:
		return "STOPPED"
	case ManagerError:
		return "ERROR"
	}
	return fmt.Sprintf("ManagerState(%d)", int(s))
}

var managerTransitions = map[ManagerState]ManagerState{
	ManagerCreated:      ManagerInitializing,
	ManagerInitializing: ManagerRunning,
	ManagerRunning:      ManagerStopping,
	ManagerStopping:     ManagerStopped,
}

func canManagerTransition(from, to ManagerState) bool {
	if to == ManagerError {
		return from != ManagerError
	}
	next, ok := managerTransitions[from]
	return ok && next == to
}
