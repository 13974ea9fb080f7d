package core

// StreamID is the opaque identifier the remote avatar service issues for one
// negotiation. It correlates the relay offer exchange with the answer.
type StreamID string

// ConnectionState mirrors the transport status reported by the peer connection.
type ConnectionState string

const (
	ConnNew          ConnectionState = "new"
	ConnConnecting   ConnectionState = "connecting"
	ConnConnected    ConnectionState = "connected"
	ConnDisconnected ConnectionState = "disconnected"
	ConnFailed       ConnectionState = "failed"
	ConnClosed       ConnectionState = "closed"
)

// Terminal reports whether the transport can never recover from s.
func (s ConnectionState) Terminal() bool {
	return s == ConnFailed || s == ConnClosed
}

func (s ConnectionState) String() string { return string(s) }
