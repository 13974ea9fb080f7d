package core

import (
	"context"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// PeerConnection is the session-scoped WebRTC endpoint driven by the signaling
// session. Every method that sets a description returns the description as it
// was finally applied (with gathered candidates).
type PeerConnection interface {
	// CreateOffer creates a local offer and sets it as the local description.
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	// ApplyRemoteOffer sets the service's offer as the remote description.
	ApplyRemoteOffer(offer webrtc.SessionDescription) error
	// CreateAnswer creates a local answer and sets it as the local description.
	CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error)
	// OnConnectionStateChange sets the single transport state callback.
	OnConnectionStateChange(func(ConnectionState))
	// OnTrack sets a callback invoked for every remote track.
	OnTrack(func(RemoteTrack))
	// Close releases network and media resources.
	Close() error
}

// PeerFactory builds a PeerConnection for the given configuration.
type PeerFactory func(cfg webrtc.Configuration) (PeerConnection, error)

// RemoteTrack is a non-owning handle on a remote media track.
// *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}
