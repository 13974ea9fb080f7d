package media

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Avatar/internal/core"
)

// Surface renders one remote track.
type Surface interface {
	// Attach binds the track; it does not start playback.
	Attach(track core.RemoteTrack) error
	// Play starts playback. gesture reports whether the call follows an
	// explicit user action. A surface that refuses automatic playback returns
	// core.ErrPlaybackBlocked.
	Play(gesture bool) error
	Close() error
}

// Sink binds the first remote track of a session to a surface. Later tracks
// are ignored.
type Sink struct {
	surface Surface
	sid     string

	mu       sync.Mutex
	track    core.RemoteTrack
	enabled  bool
	playing  bool
	blocked  bool
	released bool
}

func NewSink(surface Surface, sid string) *Sink {
	return &Sink{surface: surface, sid: sid}
}

// HandleTrack is the track-arrival subscriber. It reports whether t was bound.
func (s *Sink) HandleTrack(t core.RemoteTrack) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released || s.track != nil {
		log.Debug().Str("module", "media.sink").Str("sid", s.sid).Str("track_id", t.ID()).Msg("extra track ignored")
		return false
	}
	if err := s.surface.Attach(t); err != nil {
		log.Error().Err(err).Str("module", "media.sink").Str("sid", s.sid).Str("track_id", t.ID()).Msg("attach")
		return false
	}
	s.track = t
	log.Info().
		Str("module", "media.sink").
		Str("sid", s.sid).
		Str("kind", t.Kind().String()).
		Str("track_id", t.ID()).
		Msg("track bound")
	if s.enabled {
		s.playLocked(false)
	}
	return true
}

// Enable allows playback; called once the session is connected.
func (s *Sink) Enable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.enabled = true
	if s.track != nil {
		s.playLocked(false)
	}
}

// Resume retries blocked playback on a user gesture.
func (s *Sink) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return core.ErrSessionClosed
	}
	if s.track == nil || s.playing {
		return nil
	}
	return s.playLocked(true)
}

func (s *Sink) playLocked(gesture bool) error {
	if s.playing {
		return nil
	}
	err := s.surface.Play(gesture)
	switch {
	case err == nil:
		s.playing = true
		s.blocked = false
		log.Info().Str("module", "media.sink").Str("sid", s.sid).Bool("gesture", gesture).Msg("playback started")
	case errors.Is(err, core.ErrPlaybackBlocked):
		s.blocked = true
		log.Warn().Str("module", "media.sink").Str("sid", s.sid).Msg("playback blocked, waiting for user gesture")
	default:
		log.Error().Err(err).Str("module", "media.sink").Str("sid", s.sid).Msg("playback")
	}
	return err
}

func (s *Sink) PlaybackBlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocked
}

func (s *Sink) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Track returns the bound track, or nil.
func (s *Sink) Track() core.RemoteTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

// Release detaches the surface. The track itself belongs to the peer
// connection.
func (s *Sink) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	s.playing = false
	s.track = nil
	s.mu.Unlock()

	if err := s.surface.Close(); err != nil {
		log.Error().Err(err).Str("module", "media.sink").Str("sid", s.sid).Msg("surface close")
	}
}
