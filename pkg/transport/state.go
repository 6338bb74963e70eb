// Package transport owns the delivery channel for one subscriber identity:
// a server-sent event stream while it is healthy, interval polling once the
// stream has failed too often. A Selector holds at most one live handle
// (push stream or polling ticker) at any time.
package transport

import "time"

// State is the lifecycle position of a Selector.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "polling"
	default:
		return "disconnected"
	}
}

// Event is a transition input for the state machine.
type Event int

const (
	// EventDial is a new push connection attempt (mount or re-auth).
	EventDial Event = iota
	// EventOpened is a successfully established push stream.
	EventOpened
	// EventDelivered is a message received on the push stream.
	EventDelivered
	// EventFailed is a transport error on the push stream.
	EventFailed
	// EventClosed is an explicit teardown (unmount or logout).
	EventClosed
)

// Status is the complete observable state of a Selector: the lifecycle
// position plus the consecutive-failure counter that drives degrade.
type Status struct {
	State   State
	Retries int
}

// Transition is the pure state function. Given the current status and an
// event it returns the next status; threshold is the consecutive-failure
// count at which push is abandoned for polling. Degraded is terminal for
// the session: push is never re-probed once polling starts.
func Transition(s Status, ev Event, threshold int) Status {
	switch ev {
	case EventDial:
		if s.State == StateDegraded {
			return s
		}
		return Status{State: StateConnecting, Retries: s.Retries}
	case EventOpened:
		if s.State == StateDegraded {
			return s
		}
		return Status{State: StateConnected, Retries: s.Retries}
	case EventDelivered:
		if s.State == StateDegraded {
			return s
		}
		return Status{State: StateConnected, Retries: 0}
	case EventFailed:
		if s.State == StateDegraded {
			return s
		}
		r := s.Retries + 1
		if r >= threshold {
			return Status{State: StateDegraded, Retries: r}
		}
		return Status{State: StateConnecting, Retries: r}
	case EventClosed:
		return Status{State: StateDisconnected}
	}
	return s
}

// Backoff returns the reconnect delay for the given consecutive-failure
// count: linear in the count, capped at max.
func Backoff(retries int, base, max time.Duration) time.Duration {
	if retries < 1 {
		retries = 1
	}
	d := time.Duration(retries) * base
	if d > max {
		d = max
	}
	return d
}
