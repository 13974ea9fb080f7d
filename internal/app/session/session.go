// Package session drives one avatar negotiation from activation to teardown.
//
// The remote avatar service does not answer the client's offer. It replies,
// through the relay, with an offer of its own for a freshly opened stream, and
// the client answers that. A session therefore exchanges exactly four messages:
//
//	local offer set -> offer sent to relay -> remote offer applied -> answer sent
//
// after which it waits for the transport to connect. Any failure is terminal;
// recovery means building a new Session.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Avatar/internal/app/media"
	"github.com/dkeye/Avatar/internal/app/monitor"
	"github.com/dkeye/Avatar/internal/core"
)

const DefaultRelayTimeout = 30 * time.Second

type Config struct {
	ICEServers   []webrtc.ICEServer
	RelayTimeout time.Duration
	GracePeriod  time.Duration
}

type Session struct {
	id    string
	cfg   Config
	relay core.Relay
	pc    core.PeerConnection
	mon   *monitor.Monitor
	sink  *media.Sink

	// ctx is canceled on teardown; it bounds every in-flight step.
	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	state          core.SessionState
	err            error
	streamID       core.StreamID
	localOffer     *webrtc.SessionDescription
	remoteOffer    *webrtc.SessionDescription
	localAnswer    *webrtc.SessionDescription
	connectedEarly bool
	observers      []func(core.Transition)

	// pending holds committed transitions not yet delivered to observers.
	pending     []core.Transition
	dispatching bool
	connected   chan struct{}

	done        chan struct{}
	releaseOnce sync.Once
}

// New builds an idle session. The peer connection is created here, with the
// ICE servers fixed for the session's lifetime.
func New(cfg Config, relay core.Relay, newPeer core.PeerFactory, surface media.Surface) (*Session, error) {
	if relay == nil || newPeer == nil || surface == nil {
		return nil, errors.New("session: relay, peer factory and surface are required")
	}
	if len(cfg.ICEServers) == 0 {
		return nil, errors.New("session: at least one ICE server is required")
	}
	if cfg.RelayTimeout <= 0 {
		cfg.RelayTimeout = DefaultRelayTimeout
	}

	pc, err := newPeer(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	s := &Session{
		id:    uuid.NewString(),
		cfg:   cfg,
		relay: relay,
		pc:    pc,
		state:     core.StateIdle,
		connected: make(chan struct{}),
		done:      make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.sink = media.NewSink(surface, s.id)
	s.mon = monitor.New(cfg.GracePeriod, s.id, s.onConnectionState)
	s.mon.Watch(pc)
	pc.OnTrack(func(t core.RemoteTrack) { s.sink.HandleTrack(t) })

	log.Info().Str("module", "session").Str("sid", s.id).Int("ice_servers", len(cfg.ICEServers)).Msg("session created")
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() core.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StreamID is empty until the relay has issued one.
func (s *Session) StreamID() core.StreamID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamID
}

// Err returns the cause of a failed session.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) LocalOffer() *webrtc.SessionDescription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localOffer
}

func (s *Session) RemoteOffer() *webrtc.SessionDescription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteOffer
}

func (s *Session) LocalAnswer() *webrtc.SessionDescription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localAnswer
}

func (s *Session) Sink() *media.Sink { return s.sink }

// Done is closed once the session is failed or closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Subscribe registers an observer for every later transition. Observers run
// outside the session lock, one at a time and in commit order, so a slow
// observer delays the ones after it.
func (s *Session) Subscribe(fn func(core.Transition)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Start begins the negotiation and returns immediately. Progress is reported
// through Subscribe, Done and WaitConnected.
func (s *Session) Start() error {
	if !s.transition(core.StateIdle, core.StateOffering, nil) {
		return core.ErrSessionReused
	}
	go s.negotiate()
	return nil
}

// Close tears the session down. It is synchronous: on return the session is
// closed, its in-flight relay call is canceled and its resources released.
// Observers still busy with an earlier transition see closed after it.
// Closing a failed or closed session does nothing.
func (s *Session) Close() {
	if s.terminate(core.StateClosed, nil) {
		log.Info().Str("module", "session").Str("sid", s.id).Msg("session closed")
	}
}

// ResumePlayback retries playback the surface refused to start on its own.
// Call it from a user gesture.
func (s *Session) ResumePlayback() error {
	return s.sink.Resume()
}

// WaitConnected blocks until the session is connected, has ended, or ctx is
// done.
func (s *Session) WaitConnected(ctx context.Context) error {
	switch s.State() {
	case core.StateConnected:
		return nil
	case core.StateFailed, core.StateClosed:
		return s.terminalErr()
	}
	select {
	case <-s.connected:
		return nil
	case <-s.done:
		return s.terminalErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) terminalErr() error {
	if err := s.Err(); err != nil {
		return err
	}
	return core.ErrSessionClosed
}

func (s *Session) negotiate() {
	offer, err := s.pc.CreateOffer(s.ctx)
	if err != nil {
		s.fail(core.StateOffering, fmt.Errorf("%w: create offer: %w", core.ErrNegotiationRejected, err))
		return
	}
	if !s.record(core.StateOffering, func() { s.localOffer = &offer }) {
		return
	}

	resp, err := s.sendOffer(offer)
	if err != nil {
		s.fail(core.StateOffering, err)
		return
	}
	if !s.transition(core.StateOffering, core.StateAwaitingRemote, nil) {
		return
	}

	remote, err := validateOfferResponse(resp)
	if err != nil {
		s.fail(core.StateAwaitingRemote, err)
		return
	}
	if !s.record(core.StateAwaitingRemote, func() { s.streamID = resp.StreamID }) {
		return
	}
	if err := s.pc.ApplyRemoteOffer(remote); err != nil {
		s.fail(core.StateAwaitingRemote, fmt.Errorf("%w: apply remote offer: %w", core.ErrNegotiationRejected, err))
		return
	}
	if !s.record(core.StateAwaitingRemote, func() { s.remoteOffer = &remote }) {
		return
	}
	if !s.transition(core.StateAwaitingRemote, core.StateAnswering, nil) {
		return
	}

	answer, err := s.pc.CreateAnswer(s.ctx)
	if err != nil {
		s.fail(core.StateAnswering, fmt.Errorf("%w: create answer: %w", core.ErrNegotiationRejected, err))
		return
	}
	if !s.record(core.StateAnswering, func() { s.localAnswer = &answer }) {
		return
	}
	if err := s.sendAnswer(answer, resp.StreamID); err != nil {
		s.fail(core.StateAnswering, err)
		return
	}

	s.mu.Lock()
	if s.state != core.StateAnswering {
		s.mu.Unlock()
		s.discarded(core.StateAnswering, "answer ack")
		return
	}
	s.commitLocked(core.StateConnecting, nil)

	s.mu.Lock()
	if s.state == core.StateConnecting && s.connectedEarly {
		s.commitLocked(core.StateConnected, nil)
		return
	}
	s.mu.Unlock()
}

func (s *Session) sendOffer(offer webrtc.SessionDescription) (core.OfferResponse, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.RelayTimeout)
	defer cancel()
	resp, err := s.relay.SendOffer(ctx, offer)
	return resp, relayError(err)
}

func (s *Session) sendAnswer(answer webrtc.SessionDescription, id core.StreamID) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.RelayTimeout)
	defer cancel()
	_, err := s.relay.SendAnswer(ctx, answer, id)
	return relayError(err)
}

// relayError makes sure a timeout from any Relay implementation surfaces as
// ErrRelayUnavailable.
func relayError(err error) error {
	if err == nil || errors.Is(err, core.ErrRelayUnavailable) || errors.Is(err, core.ErrRelayProtocol) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", core.ErrRelayUnavailable, err)
	}
	return err
}

// validateOfferResponse rejects a response the remote description cannot be
// built from, before anything is applied.
func validateOfferResponse(resp core.OfferResponse) (webrtc.SessionDescription, error) {
	if resp.StreamID == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: relay response has no stream id", core.ErrRelayProtocol)
	}
	if resp.RemoteOffer == nil || resp.RemoteOffer.SDP == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: relay response has no remote offer", core.ErrRelayProtocol)
	}
	if resp.RemoteOffer.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: remote description has type %q", core.ErrRelayProtocol, resp.RemoteOffer.Type)
	}
	return *resp.RemoteOffer, nil
}

func (s *Session) onConnectionState(cs core.ConnectionState) {
	switch cs {
	case core.ConnConnected:
		s.mu.Lock()
		switch s.state {
		case core.StateConnecting:
			s.commitLocked(core.StateConnected, nil)
			return
		case core.StateAnswering:
			// The answer reached the service before its ack reached us.
			s.connectedEarly = true
		}
		s.mu.Unlock()
	case core.ConnDisconnected:
		log.Warn().Str("module", "session").Str("sid", s.id).Msg("transport disconnected")
	case core.ConnFailed, core.ConnClosed:
		s.terminate(core.StateFailed, fmt.Errorf("%w: transport %s", core.ErrConnectivityLost, cs))
	}
}

// record runs fn under the session lock if the session is still in state
// from. It reports whether fn ran.
func (s *Session) record(from core.SessionState, fn func()) bool {
	s.mu.Lock()
	if s.state != from {
		s.mu.Unlock()
		s.discarded(from, "step result")
		return false
	}
	fn()
	s.mu.Unlock()
	return true
}

func (s *Session) fail(from core.SessionState, err error) {
	if !s.transition(from, core.StateFailed, err) {
		log.Debug().Err(err).Str("module", "session").Str("sid", s.id).Msg("late error discarded")
	}
}

func (s *Session) discarded(expected core.SessionState, what string) {
	log.Debug().
		Str("module", "session").
		Str("sid", s.id).
		Str("expected", expected.String()).
		Str("state", s.State().String()).
		Msgf("%s discarded", what)
}

// transition moves from -> to if the session is still in from.
func (s *Session) transition(from, to core.SessionState, cause error) bool {
	s.mu.Lock()
	if s.state != from {
		s.mu.Unlock()
		return false
	}
	s.commitLocked(to, cause)
	return true
}

// terminate moves any non-terminal session to a terminal state.
func (s *Session) terminate(to core.SessionState, cause error) bool {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return false
	}
	s.commitLocked(to, cause)
	return true
}

// commitLocked applies a transition. It must be called with s.mu held and
// returns with it released. Side effects on the sink and peer run before it
// returns; observers are queued and delivered by dispatch.
func (s *Session) commitLocked(to core.SessionState, cause error) {
	from := s.state
	s.state = to
	switch to {
	case core.StateFailed:
		s.err = cause
	case core.StateConnected:
		close(s.connected)
	}
	s.pending = append(s.pending, core.Transition{From: from, To: to, Err: cause})
	drain := !s.dispatching
	s.dispatching = true
	s.mu.Unlock()

	switch {
	case to == core.StateConnected:
		// A no-op if a later close already released the sink.
		s.sink.Enable()
	case to.Terminal():
		s.release()
	}

	if drain {
		s.dispatch()
	}
}

// dispatch delivers queued transitions until the queue is empty. Only one
// goroutine dispatches at a time; a transition committed meanwhile, even by an
// observer, is delivered by the goroutine already dispatching.
func (s *Session) dispatch() {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.dispatching = false
			s.mu.Unlock()
			return
		}
		t := s.pending[0]
		s.pending = s.pending[1:]
		observers := slices.Clone(s.observers)
		s.mu.Unlock()

		ev := log.Info()
		if t.To == core.StateFailed {
			ev = log.Error().Err(t.Err)
		}
		ev.Str("module", "session").
			Str("sid", s.id).
			Str("from", t.From.String()).
			Str("to", t.To.String()).
			Msg("transition")

		for _, fn := range observers {
			fn(t)
		}
	}
}

func (s *Session) release() {
	s.releaseOnce.Do(func() {
		s.cancel()
		s.mon.Stop()
		s.sink.Release()
		if err := s.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "session").Str("sid", s.id).Msg("peer connection close")
		}
		close(s.done)
	})
}
