package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Avatar/internal/core"
	"github.com/dkeye/Avatar/internal/domain"
)

// RelayService sits between avatar clients and the upstream avatar service.
// A client offer opens a new upstream stream; the service's own offer for it
// goes back to the client, whose answer is then forwarded upstream.
type RelayService struct {
	Upstream core.Upstream
	Registry *Registry
	Limiter  *OfferRateLimiter
	Events   core.EventPublisher
}

// ParseDescription checks that desc has the wanted type and a well-formed
// SDP body with at least one media section.
func ParseDescription(desc webrtc.SessionDescription, want webrtc.SDPType) (*sdp.SessionDescription, error) {
	if desc.Type != want {
		return nil, fmt.Errorf("description type %q, want %q", desc.Type, want)
	}
	if desc.SDP == "" {
		return nil, errors.New("empty sdp")
	}
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(desc.SDP)); err != nil {
		return nil, err
	}
	if len(parsed.MediaDescriptions) == 0 {
		return nil, errors.New("sdp has no media sections")
	}
	return &parsed, nil
}

func mediaKinds(sd *sdp.SessionDescription) []string {
	out := make([]string, 0, len(sd.MediaDescriptions))
	for _, m := range sd.MediaDescriptions {
		out = append(out, m.MediaName.Media)
	}
	return out
}

// Offer opens an upstream stream for owner and returns it with the upstream
// offer the client must answer.
func (r *RelayService) Offer(ctx context.Context, owner domain.ClientToken, offer webrtc.SessionDescription) (domain.Stream, webrtc.SessionDescription, error) {
	parsed, err := ParseDescription(offer, webrtc.SDPTypeOffer)
	if err != nil {
		return domain.Stream{}, webrtc.SessionDescription{}, fmt.Errorf("%w: %w", core.ErrInvalidOffer, err)
	}
	if r.Limiter != nil && !r.Limiter.Allow(owner) {
		log.Warn().Str("module", "app.relay").Str("owner", string(owner)).Msg("offer rate limited")
		return domain.Stream{}, webrtc.SessionDescription{}, core.ErrRateLimited
	}

	up, err := r.Upstream.CreateStream(ctx)
	if err != nil {
		return domain.Stream{}, webrtc.SessionDescription{}, err
	}
	if _, err := ParseDescription(up.Offer, webrtc.SDPTypeOffer); err != nil {
		r.discard(up)
		return domain.Stream{}, webrtc.SessionDescription{}, fmt.Errorf("%w: upstream offer: %w", core.ErrUpstream, err)
	}

	st := domain.NewStream(up, owner)
	r.Registry.Bind(st)
	r.publish(owner, core.EventStreamCreated, st.ID)

	log.Info().
		Str("module", "app.relay").
		Str("owner", string(owner)).
		Str("stream_id", string(st.ID)).
		Strs("client_media", mediaKinds(parsed)).
		Msg("stream opened")
	return *st, up.Offer, nil
}

// Answer forwards owner's answer for stream id upstream.
func (r *RelayService) Answer(ctx context.Context, owner domain.ClientToken, id core.StreamID, answer webrtc.SessionDescription) (domain.Stream, error) {
	if id == "" {
		return domain.Stream{}, core.ErrInvalidStreamID
	}
	if _, err := ParseDescription(answer, webrtc.SDPTypeAnswer); err != nil {
		return domain.Stream{}, fmt.Errorf("%w: %w", core.ErrInvalidAnswer, err)
	}
	st, err := r.Registry.Owned(id, owner)
	if err != nil {
		return domain.Stream{}, err
	}
	if err := r.Upstream.SubmitAnswer(ctx, id, st.SessionID, answer); err != nil {
		return domain.Stream{}, err
	}
	r.Registry.MarkAnswered(id)
	st.Answered = true
	r.publish(owner, core.EventAnswerSent, id)
	return st, nil
}

// Close releases stream id on behalf of owner.
func (r *RelayService) Close(ctx context.Context, owner domain.ClientToken, id core.StreamID) error {
	if id == "" {
		return core.ErrInvalidStreamID
	}
	if _, err := r.Registry.Owned(id, owner); err != nil {
		return err
	}
	st, ok := r.Registry.Unbind(id)
	if !ok {
		return core.ErrStreamNotFound
	}
	r.publish(owner, core.EventStreamClosed, id)
	return r.Upstream.DeleteStream(ctx, id, st.SessionID)
}

// CloseAll deletes every open stream upstream. Used on shutdown.
func (r *RelayService) CloseAll(ctx context.Context) {
	for _, st := range r.Registry.All() {
		if _, ok := r.Registry.Unbind(st.ID); !ok {
			continue
		}
		if err := r.Upstream.DeleteStream(ctx, st.ID, st.SessionID); err != nil {
			log.Error().Err(err).Str("module", "app.relay").Str("stream_id", string(st.ID)).Msg("delete stream on shutdown")
		}
	}
}

func (r *RelayService) discard(up core.UpstreamStream) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Upstream.DeleteStream(ctx, up.ID, up.SessionID); err != nil {
		log.Error().Err(err).Str("module", "app.relay").Str("stream_id", string(up.ID)).Msg("discard stream")
	}
}

func (r *RelayService) publish(owner domain.ClientToken, typ core.EventType, id core.StreamID) {
	if r.Events == nil {
		return
	}
	r.Events.Publish(string(owner), core.Event{Type: typ, StreamID: id, At: time.Now().Unix()})
}
