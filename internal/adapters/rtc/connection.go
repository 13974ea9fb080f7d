package rtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Avatar/internal/core"
)

const pliInterval = 3 * time.Second

// WebRTCConnection is the client side of an avatar stream. It receives one
// audio and one video track and never sends media.
//
// The service replies to our offer with an offer of its own, and pion only
// rolls back remote descriptions. The offer-phase pion connection is therefore
// replaced by a fresh one before the service's offer is applied; callers keep
// the same WebRTCConnection throughout.
type WebRTCConnection struct {
	api    *webrtc.API
	cfg    webrtc.Configuration
	sid    string
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	pc      *webrtc.PeerConnection
	closed  bool
	onState func(core.ConnectionState)
	onTrack func(core.RemoteTrack)

	// stateMu serializes state reports; lastState is the last one forwarded.
	stateMu   sync.Mutex
	lastState core.ConnectionState

	closeOnce sync.Once
	closeErr  error
}

func DefaultWebRTCConfig() webrtc.Configuration {
	return ICEConfiguration([]string{"stun:stun.l.google.com:19302"})
}

// ICEConfiguration builds a configuration with one ICE server entry per URL.
func ICEConfiguration(urls []string) webrtc.Configuration {
	servers := make([]webrtc.ICEServer, 0, len(urls))
	for _, u := range urls {
		if u == "" {
			continue
		}
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	return webrtc.Configuration{ICEServers: servers}
}

// NewAPI wires the default codecs and interceptors and routes pion's internal
// logging through zerolog. opts adjust the setting engine.
func NewAPI(opts ...func(*webrtc.SettingEngine)) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	se := webrtc.SettingEngine{}
	se.LoggerFactory = NewLoggerFactory()
	for _, opt := range opts {
		opt(&se)
	}
	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
		webrtc.WithSettingEngine(se),
	), nil
}

// NewFactory returns a core.PeerFactory that builds connections on api.
func NewFactory(api *webrtc.API, sid string) core.PeerFactory {
	return func(cfg webrtc.Configuration) (core.PeerConnection, error) {
		return NewWebRTCConnection(api, cfg, sid)
	}
}

func NewWebRTCConnection(api *webrtc.API, cfg webrtc.Configuration, sid string) (*WebRTCConnection, error) {
	if api == nil {
		api = webrtc.NewAPI()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &WebRTCConnection{api: api, cfg: cfg, sid: sid, ctx: ctx, cancel: cancel, lastState: core.ConnNew}
	pc, err := c.newPeer()
	if err != nil {
		cancel()
		return nil, err
	}
	c.pc = pc
	return c, nil
}

// newPeer builds a receive-only pion connection whose events are forwarded
// only while it is the current one.
func (c *WebRTCConnection) newPeer() (*webrtc.PeerConnection, error) {
	pc, err := c.api.NewPeerConnection(c.cfg)
	if err != nil {
		return nil, err
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			_ = pc.Close()
			return nil, err
		}
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "webrtc").Str("sid", c.sid).Str("ice_state", s.String()).Msg("ICE state")
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("sid", c.sid).Str("peer_connection_state", s.String()).Msg("Peer state")
		if c.peer() != pc {
			return
		}
		c.reportState(pc)
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("sid", c.sid).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if c.peer() != pc {
			return
		}
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go c.requestKeyframes(pc, track)
		}
		c.mu.RLock()
		fn := c.onTrack
		c.mu.RUnlock()
		if fn != nil {
			fn(track)
		}
	})
	return pc, nil
}

func (c *WebRTCConnection) peer() *webrtc.PeerConnection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pc
}

type stateSource interface {
	ConnectionState() webrtc.PeerConnectionState
}

// reportState forwards src's current state. pion runs each state callback on
// its own goroutine, so callbacks can arrive out of order and their argument
// may already be stale; reports are serialized and repeats dropped.
func (c *WebRTCConnection) reportState(src stateSource) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	cs, ok := ToConnectionState(src.ConnectionState())
	if !ok || cs == c.lastState {
		return
	}
	c.lastState = cs
	c.mu.RLock()
	fn := c.onState
	c.mu.RUnlock()
	if fn != nil {
		fn(cs)
	}
}

// requestKeyframes sends a PLI periodically so a recorder joining mid-stream
// gets a decodable picture.
func (c *WebRTCConnection) requestKeyframes(pc *webrtc.PeerConnection, track *webrtc.TrackRemote) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			err := pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}})
			if err != nil {
				log.Debug().Err(err).Str("module", "webrtc").Str("sid", c.sid).Msg("pli write")
				return
			}
		}
	}
}

func (c *WebRTCConnection) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	pc := c.peer()
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return setLocal(ctx, pc, offer)
}

// ApplyRemoteOffer sets the service's offer as the remote description. If our
// own offer is still pending, the connection that made it is dropped first.
func (c *WebRTCConnection) ApplyRemoteOffer(offer webrtc.SessionDescription) error {
	pc := c.peer()
	if pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		fresh, err := c.newPeer()
		if err != nil {
			return fmt.Errorf("replace offer-phase connection: %w", err)
		}
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = fresh.Close()
			return webrtc.ErrConnectionClosed
		}
		c.pc = fresh
		c.mu.Unlock()
		if err := pc.Close(); err != nil {
			log.Debug().Err(err).Str("module", "webrtc").Str("sid", c.sid).Msg("close offer-phase connection")
		}
		log.Debug().Str("module", "webrtc").Str("sid", c.sid).Msg("offer-phase connection replaced")
		pc = fresh
	}
	return pc.SetRemoteDescription(offer)
}

func (c *WebRTCConnection) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	pc := c.peer()
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return setLocal(ctx, pc, answer)
}

// setLocal applies desc and waits for ICE gathering, so the returned
// description carries every candidate.
func setLocal(ctx context.Context, pc *webrtc.PeerConnection, desc webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(desc); err != nil {
		return webrtc.SessionDescription{}, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return webrtc.SessionDescription{}, ctx.Err()
	}
	ld := pc.LocalDescription()
	if ld == nil {
		return webrtc.SessionDescription{}, webrtc.ErrConnectionClosed
	}
	return *ld, nil
}

func (c *WebRTCConnection) OnConnectionStateChange(fn func(core.ConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) OnTrack(fn func(core.RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		c.closed = true
		pc := c.pc
		c.mu.Unlock()
		c.closeErr = pc.Close()
		if c.closeErr != nil {
			log.Error().Err(c.closeErr).Str("module", "webrtc").Str("sid", c.sid).Msg("close error")
		} else {
			log.Info().Str("module", "webrtc").Str("sid", c.sid).Msg("closed")
		}
	})
	return c.closeErr
}

// ToConnectionState maps pion's peer connection state. Unknown is not
// reported.
func ToConnectionState(s webrtc.PeerConnectionState) (core.ConnectionState, bool) {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return core.ConnNew, true
	case webrtc.PeerConnectionStateConnecting:
		return core.ConnConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return core.ConnConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return core.ConnDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return core.ConnFailed, true
	case webrtc.PeerConnectionStateClosed:
		return core.ConnClosed, true
	default:
		return "", false
	}
}
