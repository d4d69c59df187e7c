// Package lifecycle provides the start/stop state shared by long-running socket
// components such as servers and transports.
package lifecycle

import (
	"fmt"
	"sync/atomic"
)

// State is the lifecycle position of a component.
type State int32

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	}
	return "unknown"
}

// Component is anything with a managed lifecycle.
type Component interface {
	// Stop releases the component's resources. Stopping a stopped component is a no-op.
	Stop() error
	// State returns the current lifecycle state.
	State() State
}

// Tracker holds a State and enforces transitions. The zero value is Stopped.
type Tracker struct {
	v atomic.Int32
}

// Load returns the current state.
func (t *Tracker) Load() State { return State(t.v.Load()) }

// Transition moves from -> to, failing when the current state is not from.
func (t *Tracker) Transition(from, to State) error {
	if !t.v.CompareAndSwap(int32(from), int32(to)) {
		return fmt.Errorf("lifecycle: cannot move to %s while %s", to, t.Load())
	}
	return nil
}

// Set forces the state.
func (t *Tracker) Set(s State) { t.v.Store(int32(s)) }
