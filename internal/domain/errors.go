package domain

import "errors"

// Connection lifecycle errors.
var (
	// ErrConnectionInit indicates a connection was requested while another is still open.
	ErrConnectionInit = errors.New("peer connection already open")

	// ErrNegotiation indicates a native SDP or candidate operation failed.
	ErrNegotiation = errors.New("negotiation failed")
)

// Signaling errors.
var (
	// ErrSignalingDelivery indicates the signaling channel is unavailable.
	ErrSignalingDelivery = errors.New("signaling channel unavailable")

	// ErrStaleMessage marks a message for a room other than the current one.
	// It is used for filtering and logging only.
	ErrStaleMessage = errors.New("stale message discarded")
)

// Session errors.
var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNoActiveCall      = errors.New("no active call")
	ErrNotReturnable     = errors.New("call is not returnable")
	ErrSessionClosed     = errors.New("session closed")

	// ErrCallTimeout is the cause recorded when a call is abandoned by a
	// ring or dial timeout.
	ErrCallTimeout = errors.New("call timed out")
)
