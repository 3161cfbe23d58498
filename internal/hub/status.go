package hub

import "encoding/json"

// State is the coarse connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateReconnecting:
		return "Reconnecting"
	case StateError:
		return "Error"
	default:
		return "Disconnected"
	}
}

// Status is the connection state plus the error text when State is StateError.
type Status struct {
	State   State
	Message string
}

// String renders the human readable status, e.g. "Error: connection refused".
func (s Status) String() string {
	if s.State == StateError {
		return "Error: " + s.Message
	}
	return s.State.String()
}

// Connected reports whether the transport is up.
func (s Status) Connected() bool { return s.State == StateConnected }

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func disconnected() Status { return Status{State: StateDisconnected} }

func errorStatus(err error) Status {
	return Status{State: StateError, Message: err.Error()}
}
