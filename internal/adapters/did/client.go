// Package did talks to the D-ID streaming API on behalf of the relay.
package did

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Avatar/internal/core"
)

const (
	streamsPath = "/talks/streams"
	streamPath  = "/talks/streams/{id}"
	sdpPath     = "/talks/streams/{id}/sdp"
)

// StatusError is a non-2xx reply from the service.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("d-id status %d: %s", e.Status, e.Body)
}

func (e *StatusError) Unwrap() error { return core.ErrUpstream }

type createStreamRequest struct {
	SourceURL string `json:"source_url"`
}

type createStreamResponse struct {
	ID         string                     `json:"id"`
	Offer      *webrtc.SessionDescription `json:"offer"`
	SessionID  string                     `json:"session_id"`
	ICEServers []webrtc.ICEServer         `json:"ice_servers"`
}

type submitAnswerRequest struct {
	Answer    webrtc.SessionDescription `json:"answer"`
	SessionID string                    `json:"session_id"`
}

type deleteStreamRequest struct {
	SessionID string `json:"session_id"`
}

type Client struct {
	hc        *resty.Client
	sourceURL string
}

// New returns a client authenticated with apiKey. Every stream it creates
// animates the image at sourceURL.
func New(baseURL, apiKey, sourceURL string, timeout time.Duration) *Client {
	hc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(apiKey)))
	return &Client{hc: hc, sourceURL: sourceURL}
}

func (c *Client) CreateStream(ctx context.Context) (core.UpstreamStream, error) {
	res, err := c.hc.R().
		SetContext(ctx).
		SetBody(createStreamRequest{SourceURL: c.sourceURL}).
		Post(streamsPath)
	if err != nil {
		return core.UpstreamStream{}, fmt.Errorf("%w: create stream: %w", core.ErrUpstream, err)
	}
	if res.IsError() {
		return core.UpstreamStream{}, &StatusError{Status: res.StatusCode(), Body: res.String()}
	}

	var body createStreamResponse
	if err := json.Unmarshal(res.Body(), &body); err != nil {
		return core.UpstreamStream{}, fmt.Errorf("%w: decode stream: %w", core.ErrUpstream, err)
	}
	if body.ID == "" || body.Offer == nil || body.Offer.SDP == "" {
		return core.UpstreamStream{}, fmt.Errorf("%w: stream reply without id or offer", core.ErrUpstream)
	}

	log.Info().
		Str("module", "adapters.did").
		Str("stream_id", body.ID).
		Int("ice_servers", len(body.ICEServers)).
		Msg("stream created")
	return core.UpstreamStream{
		ID:         core.StreamID(body.ID),
		SessionID:  body.SessionID,
		Offer:      *body.Offer,
		ICEServers: body.ICEServers,
	}, nil
}

func (c *Client) SubmitAnswer(ctx context.Context, id core.StreamID, sessionID string, answer webrtc.SessionDescription) error {
	req := c.hc.R().
		SetContext(ctx).
		SetPathParam("id", string(id)).
		SetBody(submitAnswerRequest{Answer: answer, SessionID: sessionID})
	if sessionID != "" {
		// The service also routes on the session cookie it issued.
		req.SetHeader("Cookie", sessionID)
	}
	res, err := req.Post(sdpPath)
	if err != nil {
		return fmt.Errorf("%w: submit answer: %w", core.ErrUpstream, err)
	}
	if res.IsError() {
		return &StatusError{Status: res.StatusCode(), Body: res.String()}
	}
	log.Info().Str("module", "adapters.did").Str("stream_id", string(id)).Msg("answer submitted")
	return nil
}

func (c *Client) DeleteStream(ctx context.Context, id core.StreamID, sessionID string) error {
	res, err := c.hc.R().
		SetContext(ctx).
		SetPathParam("id", string(id)).
		SetBody(deleteStreamRequest{SessionID: sessionID}).
		Delete(streamPath)
	if err != nil {
		return fmt.Errorf("%w: delete stream: %w", core.ErrUpstream, err)
	}
	if res.IsError() {
		return &StatusError{Status: res.StatusCode(), Body: res.String()}
	}
	log.Info().Str("module", "adapters.did").Str("stream_id", string(id)).Msg("stream deleted")
	return nil
}
