package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Avatar/internal/adapters/rtc"
	"github.com/dkeye/Avatar/internal/core"
)

// avatarService plays the relay and the remote service at once: it answers
// the client's offer with an offer of its own and streams video once answered.
type avatarService struct {
	api *webrtc.API

	mu    sync.Mutex
	pc    *webrtc.PeerConnection
	video *webrtc.TrackLocalStaticSample
}

func (a *avatarService) SendOffer(ctx context.Context, _ webrtc.SessionDescription) (core.OfferResponse, error) {
	pc, err := a.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return core.OfferResponse{}, err
	}
	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "avatar")
	if err != nil {
		return core.OfferResponse{}, err
	}
	if _, err := pc.AddTrack(video); err != nil {
		return core.OfferResponse{}, err
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return core.OfferResponse{}, err
	}
	gather := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return core.OfferResponse{}, err
	}
	select {
	case <-gather:
	case <-ctx.Done():
		return core.OfferResponse{}, ctx.Err()
	}

	a.mu.Lock()
	a.pc, a.video = pc, video
	a.mu.Unlock()
	remote := *pc.LocalDescription()
	return core.OfferResponse{StreamID: "strm_loopback", RemoteOffer: &remote}, nil
}

func (a *avatarService) SendAnswer(_ context.Context, answer webrtc.SessionDescription, id core.StreamID) (core.Ack, error) {
	a.mu.Lock()
	pc := a.pc
	a.mu.Unlock()
	if pc == nil {
		return core.Ack{}, errors.New("no stream")
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return core.Ack{}, err
	}
	return core.Ack{Status: "ok", StreamID: id}, nil
}

func (a *avatarService) stream(ctx context.Context) {
	a.mu.Lock()
	video := a.video
	a.mu.Unlock()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = video.WriteSample(pionmedia.Sample{Data: []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a}, Duration: 20 * time.Millisecond})
		}
	}
}

func (a *avatarService) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pc != nil {
		_ = a.pc.Close()
	}
}

func TestSessionConnectsToAvatarServiceOverLoopback(t *testing.T) {
	api, err := rtc.NewAPI(func(se *webrtc.SettingEngine) {
		se.SetIncludeLoopbackCandidate(true)
	})
	require.NoError(t, err)
	svc := &avatarService{api: api}
	t.Cleanup(svc.close)

	factory := rtc.NewFactory(api, "loopback")
	// Host candidates are enough on loopback; skip the STUN round trip.
	newPeer := func(cfg webrtc.Configuration) (core.PeerConnection, error) {
		cfg.ICEServers = nil
		return factory(cfg)
	}
	surface := &fakeSurface{}
	s, err := New(Config{
		ICEServers:   []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
		RelayTimeout: 10 * time.Second,
	}, svc, newPeer, surface)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return s.State() == core.StateConnecting || s.State() == core.StateConnected },
		10*time.Second, 10*time.Millisecond, "state is %s, err %v", s.State(), s.Err())

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()
	go svc.stream(ctx)
	require.NoError(t, s.WaitConnected(ctx))
	assert.Equal(t, core.StreamID("strm_loopback"), s.StreamID())

	require.Eventually(t, func() bool { return s.Sink().Track() != nil }, 10*time.Second, 10*time.Millisecond)
	assert.Equal(t, webrtc.RTPCodecTypeVideo, s.Sink().Track().Kind())
	require.Eventually(t, func() bool { return surface.playCount() > 0 }, time.Second, 10*time.Millisecond)

	s.Close()
	assert.Equal(t, core.StateClosed, s.State())
}
