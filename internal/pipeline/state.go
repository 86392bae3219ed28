package pipeline

import "fmt"

// State is the lifecycle position of a Pipeline. States are ordered; an operation that
// requires a state also accepts every later one.
type State int

const (
	StateUninitialized State = iota
	StateLoaded
	StateCompiled
	StateInstantiated
)

var stateNames = [...]string{
	StateUninitialized: "uninitialized",
	StateLoaded:        "loaded",
	StateCompiled:      "compiled",
	StateInstantiated:  "instantiated",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}
