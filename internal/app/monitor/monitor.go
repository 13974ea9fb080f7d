// Package monitor watches a peer connection's transport state and decides when
// a transient disconnection has become terminal. It only reports; the session
// decides what a report means.
package monitor

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Avatar/internal/core"
)

const DefaultGracePeriod = 5 * time.Second

// Watchable is the part of core.PeerConnection the monitor subscribes to.
type Watchable interface {
	OnConnectionStateChange(func(core.ConnectionState))
}

type Monitor struct {
	grace  time.Duration
	notify func(core.ConnectionState)
	sid    string

	mu       sync.Mutex
	state    core.ConnectionState
	terminal bool
	timer    *time.Timer
	// gen invalidates a grace timer that fired after it was stopped.
	gen uint64
}

func New(grace time.Duration, sid string, notify func(core.ConnectionState)) *Monitor {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Monitor{grace: grace, notify: notify, sid: sid, state: core.ConnNew}
}

// Watch subscribes the monitor to w's state changes.
func (m *Monitor) Watch(w Watchable) {
	w.OnConnectionStateChange(m.Observe)
}

func (m *Monitor) State() core.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Observe feeds one native state report into the monitor.
func (m *Monitor) Observe(s core.ConnectionState) {
	m.mu.Lock()
	if m.terminal {
		m.mu.Unlock()
		return
	}
	m.state = s
	switch s {
	case core.ConnConnected:
		m.stopTimerLocked()
	case core.ConnDisconnected:
		if m.timer == nil {
			m.gen++
			gen := m.gen
			m.timer = time.AfterFunc(m.grace, func() { m.expire(gen) })
			log.Warn().Str("module", "monitor").Str("sid", m.sid).Dur("grace", m.grace).Msg("disconnected, grace period started")
		}
	case core.ConnFailed, core.ConnClosed:
		m.stopTimerLocked()
		m.terminal = true
	}
	m.mu.Unlock()

	m.emit(s)
}

func (m *Monitor) expire(gen uint64) {
	m.mu.Lock()
	if m.terminal || gen != m.gen || m.state == core.ConnConnected {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.terminal = true
	m.state = core.ConnFailed
	m.mu.Unlock()

	log.Error().Str("module", "monitor").Str("sid", m.sid).Dur("grace", m.grace).Msg("disconnection outlived grace period")
	m.emit(core.ConnFailed)
}

// Stop cancels a pending escalation and silences further reports.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopTimerLocked()
	m.terminal = true
	m.mu.Unlock()
}

func (m *Monitor) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.gen++
}

func (m *Monitor) emit(s core.ConnectionState) {
	log.Debug().Str("module", "monitor").Str("sid", m.sid).Str("state", s.String()).Msg("connection state")
	if m.notify != nil {
		m.notify(s)
	}
}
