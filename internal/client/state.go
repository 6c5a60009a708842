package client

import "fmt"

// State is the supervisor's connection state. Exactly one holds at a time.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	// StateClosed is entered only through Disconnect and left only through
	// a fresh Connect.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Identity is who the session belongs to. Token is the bearer credential
// handed in by the caller; the supervisor never refreshes it.
type Identity struct {
	SubjectID string
	Role      string
	Token     string
}

// String omits the token so identities can be logged.
func (id Identity) String() string {
	return fmt.Sprintf("%s (%s)", id.SubjectID, id.Role)
}

// LifecycleEvent is emitted on every state transition and for errors that
// do not change state. Err is nil for plain transitions.
type LifecycleEvent struct {
	Prev  State
	State State
	Err   error
}
