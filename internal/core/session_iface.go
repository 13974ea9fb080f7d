package core

// SessionState is a step of the avatar negotiation state machine.
type SessionState string

const (
	StateIdle           SessionState = "idle"
	StateOffering       SessionState = "offering"
	StateAwaitingRemote SessionState = "awaiting_remote"
	StateAnswering      SessionState = "answering"
	StateConnecting     SessionState = "connecting"
	StateConnected      SessionState = "connected"
	StateFailed         SessionState = "failed"
	StateClosed         SessionState = "closed"
)

// Terminal reports whether no further transition can leave s.
func (s SessionState) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

func (s SessionState) String() string { return string(s) }

// Transition is emitted to session observers on every state change.
// Err is set when To is StateFailed.
type Transition struct {
	From SessionState
	To   SessionState
	Err  error
}
