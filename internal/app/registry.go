package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Avatar/internal/core"
	"github.com/dkeye/Avatar/internal/domain"
)

// Registry tracks the upstream streams the relay has opened, keyed by stream
// id. Lookups return copies.
type Registry struct {
	mu      sync.RWMutex
	streams map[core.StreamID]*domain.Stream
}

func NewRegistry() *Registry {
	return &Registry{streams: make(map[core.StreamID]*domain.Stream)}
}

func (r *Registry) Bind(st *domain.Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[st.ID] = st
	log.Info().Str("module", "app.registry").Str("stream_id", string(st.ID)).Str("owner", string(st.Owner)).Msg("bound stream")
}

func (r *Registry) Get(id core.StreamID) (domain.Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if st, ok := r.streams[id]; ok {
		return *st, true
	}
	return domain.Stream{}, false
}

// Owned returns the stream if it exists and belongs to owner.
func (r *Registry) Owned(id core.StreamID, owner domain.ClientToken) (domain.Stream, error) {
	st, ok := r.Get(id)
	if !ok {
		return domain.Stream{}, core.ErrStreamNotFound
	}
	if st.Owner != owner {
		return domain.Stream{}, core.ErrStreamOwner
	}
	return st, nil
}

func (r *Registry) MarkAnswered(id core.StreamID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.streams[id]
	if !ok {
		return false
	}
	st.Answered = true
	return true
}

func (r *Registry) Unbind(id core.StreamID) (domain.Stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.streams[id]
	if !ok {
		return domain.Stream{}, false
	}
	delete(r.streams, id)
	log.Info().Str("module", "app.registry").Str("stream_id", string(id)).Msg("unbind stream")
	return *st, true
}

func (r *Registry) OwnedBy(owner domain.ClientToken) []domain.Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Stream, 0, 1)
	for _, st := range r.streams {
		if st.Owner == owner {
			out = append(out, *st)
		}
	}
	return out
}

func (r *Registry) All() []domain.Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Stream, 0, len(r.streams))
	for _, st := range r.streams {
		out = append(out, *st)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}
