package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// OfferResponse is the relay's reply to a client offer: the stream the remote
// service opened and the service's own offer for that stream.
type OfferResponse struct {
	StreamID    StreamID
	RemoteOffer *webrtc.SessionDescription
}

// Ack acknowledges an answer submitted to the relay.
type Ack struct {
	Status   string   `json:"status"`
	StreamID StreamID `json:"stream_id"`
}

// Relay forwards session descriptions to the remote avatar service.
// Implementations never retry.
type Relay interface {
	SendOffer(ctx context.Context, offer webrtc.SessionDescription) (OfferResponse, error)
	SendAnswer(ctx context.Context, answer webrtc.SessionDescription, id StreamID) (Ack, error)
}
