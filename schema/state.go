package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// CoreState is the operational phase reported by the core service.
type CoreState int

const (
	// CoreStopped means the core is not running.
	CoreStopped CoreState = iota
	// CoreStarting means the core accepted a start and is coming up.
	CoreStarting
	// CoreStarted means the core is running.
	CoreStarted
	// CoreStopping means the core accepted a stop and is shutting down.
	CoreStopping
)

var coreStateNames = [...]string{
	CoreStopped:  "stopped",
	CoreStarting: "starting",
	CoreStarted:  "started",
	CoreStopping: "stopping",
}

func (s CoreState) String() string {
	if s.Valid() {
		return coreStateNames[s]
	}
	return "CoreState(" + strconv.Itoa(int(s)) + ")"
}

// Label is the user-facing connection label for the state.
func (s CoreState) Label() string {
	switch s {
	case CoreStopped:
		return "Disconnected"
	case CoreStarting:
		return "Starting"
	case CoreStarted:
		return "Connected"
	case CoreStopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// Valid reports whether s is one of the known states.
func (s CoreState) Valid() bool {
	return s >= CoreStopped && s <= CoreStopping
}

// ParseCoreState accepts the lower-case state names, the upper-case wire names
// (STOPPED, STARTING, ...) and their numeric values.
func ParseCoreState(raw string) (CoreState, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	for i, name := range coreStateNames {
		if value == name {
			return CoreState(i), nil
		}
	}
	if n, err := strconv.Atoi(value); err == nil {
		if state := CoreState(n); state.Valid() {
			return state, nil
		}
	}
	return CoreStopped, fmt.Errorf("%w: %q", ErrInvalidState, raw)
}
