package session

import (
	"github.com/OjDrez/tander-app-sub004/internal/domain"
)

// Status is the call session's lifecycle state.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusCalling    Status = "calling"
	StatusRinging    Status = "ringing"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusEnded      Status = "ended"
	StatusRejected   Status = "rejected"
	StatusMissed     Status = "missed"
	StatusBusy       Status = "busy"
)

// AllStatuses lists every status in declaration order.
var AllStatuses = []Status{
	StatusIdle, StatusCalling, StatusRinging, StatusConnecting, StatusConnected,
	StatusEnded, StatusRejected, StatusMissed, StatusBusy,
}

// transitions is the only set of edges the session may take. Every
// non-idle status may also return to idle after teardown.
var transitions = map[Status][]Status{
	StatusIdle:       {StatusCalling, StatusRinging},
	StatusCalling:    {StatusConnecting, StatusEnded, StatusRejected, StatusBusy},
	StatusRinging:    {StatusConnecting, StatusEnded, StatusRejected, StatusMissed},
	StatusConnecting: {StatusConnected, StatusEnded},
	StatusConnected:  {StatusEnded},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	if to == StatusIdle {
		return from != StatusIdle
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends a call attempt. A terminal session must
// reset to idle before another call can start.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusRejected || s == StatusMissed
}

// Active reports whether s counts as an active call: anything but idle and
// the terminal states. Busy is active until it is reset.
func (s Status) Active() bool {
	return s != StatusIdle && !s.Terminal()
}

// inCall reports whether s is a state the local user can hang up.
func (s Status) inCall() bool {
	switch s {
	case StatusCalling, StatusRinging, StatusConnecting, StatusConnected:
		return true
	}
	return false
}

// ConnectionView is the part of the connection manager the returnability
// predicate reads.
type ConnectionView interface {
	HasHandle() bool
	SignalingState() domain.SignalingState
}

// Returnable evaluates whether a session in status s with connection conn
// can be re-entered by the UI. It reads conn live and must not be cached.
func Returnable(s Status, conn ConnectionView) bool {
	switch s {
	case StatusCalling, StatusRinging:
		return true
	case StatusConnecting, StatusConnected:
		return conn != nil && conn.HasHandle() && conn.SignalingState() != domain.SignalingClosed
	}
	return false
}
