// Package relay is the client of the backend relay that forwards session
// descriptions to the remote avatar service. It is a pure transport: no state,
// no retries.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Avatar/internal/core"
)

const (
	OfferPath   = "/did/offer"
	AnswerPath  = "/did/answer"
	StreamsPath = "/did/streams/"
)

// OfferRequest is the body of POST /did/offer.
type OfferRequest struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// OfferReply is the canonical body returned by POST /did/offer.
type OfferReply struct {
	ID    string                     `json:"id"`
	Offer *webrtc.SessionDescription `json:"offer"`
}

// AnswerRequest is the body of POST /did/answer.
type AnswerRequest struct {
	SDP      string `json:"sdp"`
	Type     string `json:"type"`
	StreamID string `json:"stream_id"`
}

type Client struct {
	hc *resty.Client
}

// New returns a client for the relay at baseURL. timeout bounds every call;
// a shorter context deadline wins.
func New(baseURL string, timeout time.Duration) *Client {
	hc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Client{hc: hc}
}

func (c *Client) SendOffer(ctx context.Context, offer webrtc.SessionDescription) (core.OfferResponse, error) {
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		return core.OfferResponse{}, fmt.Errorf("%w: local description is not an offer", core.ErrNegotiationRejected)
	}
	body, err := c.post(ctx, OfferPath, OfferRequest{SDP: offer.SDP, Type: offer.Type.String()})
	if err != nil {
		return core.OfferResponse{}, err
	}

	var reply OfferReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return core.OfferResponse{}, fmt.Errorf("%w: decode offer reply: %w", core.ErrRelayProtocol, err)
	}
	if err := ValidateOfferReply(reply); err != nil {
		return core.OfferResponse{}, err
	}
	log.Info().Str("module", "relay.client").Str("stream_id", reply.ID).Msg("remote offer received")
	return core.OfferResponse{StreamID: core.StreamID(reply.ID), RemoteOffer: reply.Offer}, nil
}

// ValidateOfferReply enforces the {id, offer} schema. An {answer} body, or an
// offer of any other type, is a protocol error.
func ValidateOfferReply(reply OfferReply) error {
	if reply.ID == "" {
		return fmt.Errorf("%w: missing id", core.ErrRelayProtocol)
	}
	if reply.Offer == nil || reply.Offer.SDP == "" {
		return fmt.Errorf("%w: missing offer", core.ErrRelayProtocol)
	}
	if reply.Offer.Type != webrtc.SDPTypeOffer {
		return fmt.Errorf("%w: remote description has type %q, want offer", core.ErrRelayProtocol, reply.Offer.Type)
	}
	return nil
}

func (c *Client) SendAnswer(ctx context.Context, answer webrtc.SessionDescription, id core.StreamID) (core.Ack, error) {
	if id == "" {
		return core.Ack{}, core.ErrInvalidStreamID
	}
	if answer.Type != webrtc.SDPTypeAnswer || answer.SDP == "" {
		return core.Ack{}, fmt.Errorf("%w: local description is not an answer", core.ErrNegotiationRejected)
	}
	body, err := c.post(ctx, AnswerPath, AnswerRequest{SDP: answer.SDP, Type: answer.Type.String(), StreamID: string(id)})
	if err != nil {
		return core.Ack{}, err
	}

	var ack core.Ack
	if err := json.Unmarshal(body, &ack); err != nil {
		return core.Ack{}, fmt.Errorf("%w: decode answer ack: %w", core.ErrRelayProtocol, err)
	}
	log.Info().Str("module", "relay.client").Str("stream_id", string(id)).Str("status", ack.Status).Msg("answer accepted")
	return ack, nil
}

// CloseStream asks the relay to release the remote stream.
func (c *Client) CloseStream(ctx context.Context, id core.StreamID) error {
	if id == "" {
		return core.ErrInvalidStreamID
	}
	res, err := c.hc.R().SetContext(ctx).Delete(StreamsPath + string(id))
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrRelayUnavailable, err)
	}
	return statusError(res)
}

func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	res, err := c.hc.R().SetContext(ctx).SetBody(body).Post(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrRelayUnavailable, err)
	}
	log.Debug().Str("module", "relay.client").Str("path", path).Str("status", res.Status()).Msg("relay response")
	if err := statusError(res); err != nil {
		return nil, err
	}
	return res.Body(), nil
}

func statusError(res *resty.Response) error {
	switch code := res.StatusCode(); {
	case code >= 200 && code < 300:
		return nil
	case code >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d: %s", core.ErrRelayUnavailable, code, res.String())
	default:
		return fmt.Errorf("%w: status %d: %s", core.ErrRelayProtocol, code, res.String())
	}
}
