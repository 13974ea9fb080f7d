package core

import "errors"

var (
	// ErrRelayUnavailable is returned when the relay cannot be reached, times out,
	// or reports a server-side failure.
	ErrRelayUnavailable = errors.New("relay unavailable")
	// ErrRelayProtocol is returned when a relay response is malformed or lacks a
	// required field.
	ErrRelayProtocol       = errors.New("relay protocol error")
	ErrNegotiationRejected = errors.New("negotiation rejected")
	ErrConnectivityLost    = errors.New("connectivity lost")
	// ErrPlaybackBlocked is never terminal for a session; playback is retried on
	// the next user gesture.
	ErrPlaybackBlocked = errors.New("playback blocked")

	ErrInvalidStreamID = errors.New("invalid stream id")
	ErrSessionReused   = errors.New("session already started")
	ErrSessionActive   = errors.New("another session is still active")
	ErrSessionClosed   = errors.New("session closed")
)

// Relay service errors.
var (
	ErrInvalidOffer   = errors.New("invalid offer")
	ErrInvalidAnswer  = errors.New("invalid answer")
	ErrStreamNotFound = errors.New("stream not found")
	ErrStreamOwner    = errors.New("stream belongs to another client")
	ErrRateLimited    = errors.New("too many offers")
	ErrUpstream       = errors.New("avatar service error")
)
