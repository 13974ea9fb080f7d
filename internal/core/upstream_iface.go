package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// UpstreamStream is a stream freshly opened on the remote avatar service.
// SessionID is the service's own correlation token; it must accompany every
// later call for the stream.
type UpstreamStream struct {
	ID         StreamID
	SessionID  string
	Offer      webrtc.SessionDescription
	ICEServers []webrtc.ICEServer
}

// Upstream is the remote avatar service as seen by the relay.
type Upstream interface {
	CreateStream(ctx context.Context) (UpstreamStream, error)
	SubmitAnswer(ctx context.Context, id StreamID, sessionID string, answer webrtc.SessionDescription) error
	DeleteStream(ctx context.Context, id StreamID, sessionID string) error
}

// EventType names a relay event pushed to clients.
type EventType string

const (
	EventStreamCreated EventType = "stream_created"
	EventAnswerSent    EventType = "answer_submitted"
	EventStreamClosed  EventType = "stream_closed"
)

// Event is published to every feed connection of the client that owns the
// stream.
type Event struct {
	Type     EventType `json:"type"`
	StreamID StreamID  `json:"stream_id"`
	At       int64     `json:"at"`
}

type EventPublisher interface {
	Publish(clientToken string, ev Event)
}
