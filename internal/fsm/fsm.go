// Package fsm defines the listening-run lifecycle.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

const (
	EventStart   Event = "start"
	EventStop    Event = "stop"
	EventDrained Event = "drained"
	EventAbort   Event = "abort"
)

// Transition returns the next state. Stopped is terminal.
func Transition(current State, event Event) (State, error) {
	switch current {
	case StateIdle:
		switch event {
		case EventStart:
			return StateRunning, nil
		case EventAbort:
			return StateStopped, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateRunning:
		switch event {
		case EventStop:
			return StateStopping, nil
		case EventAbort:
			return StateStopped, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateStopping:
		switch event {
		case EventDrained, EventAbort:
			return StateStopped, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateStopped:
		return current, invalidTransition(current, event)
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

// Active reports whether a run is capturing or draining.
func (s State) Active() bool {
	return s == StateRunning || s == StateStopping
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
