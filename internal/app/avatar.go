package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Avatar/internal/app/media"
	"github.com/dkeye/Avatar/internal/app/session"
	"github.com/dkeye/Avatar/internal/core"
)

// StreamCloser is implemented by relays that can release a remote stream.
type StreamCloser interface {
	CloseStream(ctx context.Context, id core.StreamID) error
}

// Avatar owns at most one live session at a time.
type Avatar struct {
	Config     session.Config
	Relay      core.Relay
	NewPeer    core.PeerFactory
	NewSurface func() media.Surface

	mu      sync.Mutex
	current *session.Session
}

// Activate builds and starts a new session. It fails with
// core.ErrSessionActive while the previous one is still live.
func (a *Avatar) Activate() (*session.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current != nil && !a.current.State().Terminal() {
		return nil, core.ErrSessionActive
	}

	s, err := session.New(a.Config, a.Relay, a.NewPeer, a.NewSurface())
	if err != nil {
		return nil, err
	}
	s.Subscribe(func(t core.Transition) {
		if t.To == core.StateFailed {
			log.Warn().Err(t.Err).Str("module", "app.avatar").Str("sid", s.ID()).Msg("session failed, activate again to retry")
		}
	})
	if err := s.Start(); err != nil {
		s.Close()
		return nil, err
	}
	a.current = s
	log.Info().Str("module", "app.avatar").Str("sid", s.ID()).Msg("avatar activated")
	return s, nil
}

// Current returns the latest session, live or not.
func (a *Avatar) Current() *session.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// ResumePlayback forwards a user gesture to the live session.
func (a *Avatar) ResumePlayback() error {
	s := a.Current()
	if s == nil {
		return core.ErrSessionClosed
	}
	return s.ResumePlayback()
}

// Deactivate closes the current session and, if the relay supports it,
// releases the remote stream the session had opened.
func (a *Avatar) Deactivate(ctx context.Context) error {
	a.mu.Lock()
	s := a.current
	a.mu.Unlock()
	if s == nil {
		return nil
	}

	s.Close()
	id := s.StreamID()
	closer, ok := a.Relay.(StreamCloser)
	if !ok || id == "" {
		return nil
	}
	if err := closer.CloseStream(ctx, id); err != nil {
		log.Warn().Err(err).Str("module", "app.avatar").Str("stream_id", string(id)).Msg("close remote stream")
		return err
	}
	log.Info().Str("module", "app.avatar").Str("sid", s.ID()).Str("stream_id", string(id)).Msg("avatar deactivated")
	return nil
}
