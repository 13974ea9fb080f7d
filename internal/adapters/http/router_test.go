package http

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Avatar/internal/adapters/relay"
	"github.com/dkeye/Avatar/internal/adapters/signal"
	"github.com/dkeye/Avatar/internal/app"
	"github.com/dkeye/Avatar/internal/config"
	"github.com/dkeye/Avatar/internal/core"
)

const testSDP = "v=0\r\n" +
	"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=recvonly\r\n"

type fakeUpstream struct {
	mu      sync.Mutex
	n       int
	answers []core.StreamID
	deleted []core.StreamID
	fail    bool
}

func (f *fakeUpstream) CreateStream(context.Context) (core.UpstreamStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return core.UpstreamStream{}, fmt.Errorf("%w: status 500", core.ErrUpstream)
	}
	f.n++
	return core.UpstreamStream{
		ID:        core.StreamID(fmt.Sprintf("strm_%d", f.n)),
		SessionID: "sess",
		Offer:     webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: testSDP},
	}, nil
}

func (f *fakeUpstream) SubmitAnswer(_ context.Context, id core.StreamID, _ string, _ webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, id)
	return nil
}

func (f *fakeUpstream) DeleteStream(_ context.Context, id core.StreamID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func newTestServer(t *testing.T, up *fakeUpstream, limit int) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := app.NewRegistry()
	feed := signal.NewEventFeed(reg)
	svc := &app.RelayService{
		Upstream: up,
		Registry: reg,
		Limiter:  app.NewOfferRateLimiter(limit, time.Minute),
		Events:   feed,
	}
	cfg := &config.Config{Mode: "test", Secret: "test-secret"}
	srv := httptest.NewServer(SetupRouter(t.Context(), cfg, svc, feed))
	t.Cleanup(srv.Close)
	return srv
}

func TestRelayRoundTripWithClient(t *testing.T) {
	up := &fakeUpstream{}
	srv := newTestServer(t, up, 5)
	client := relay.New(srv.URL, time.Second)
	ctx := t.Context()

	resp, err := client.SendOffer(ctx, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: testSDP})
	require.NoError(t, err)
	assert.Equal(t, core.StreamID("strm_1"), resp.StreamID)
	require.NotNil(t, resp.RemoteOffer)
	assert.Equal(t, webrtc.SDPTypeOffer, resp.RemoteOffer.Type)

	ack, err := client.SendAnswer(ctx, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: testSDP}, resp.StreamID)
	require.NoError(t, err)
	assert.Equal(t, "ok", ack.Status)
	assert.Equal(t, resp.StreamID, ack.StreamID)

	require.NoError(t, client.CloseStream(ctx, resp.StreamID))
	assert.Equal(t, []core.StreamID{"strm_1"}, up.answers)
	assert.Equal(t, []core.StreamID{"strm_1"}, up.deleted)
}

func TestAnswerFromAnotherClientConflicts(t *testing.T) {
	up := &fakeUpstream{}
	srv := newTestServer(t, up, 5)
	ctx := t.Context()

	owner := relay.New(srv.URL, time.Second)
	resp, err := owner.SendOffer(ctx, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: testSDP})
	require.NoError(t, err)

	body := fmt.Sprintf(`{"sdp":%q,"type":"answer","stream_id":%q}`, testSDP, resp.StreamID)
	res, err := http.Post(srv.URL+"/did/answer", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Empty(t, up.answers)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"bad json", http.MethodPost, "/did/offer", `{`, http.StatusBadRequest},
		{"offer of wrong type", http.MethodPost, "/did/offer", fmt.Sprintf(`{"sdp":%q,"type":"answer"}`, testSDP), http.StatusBadRequest},
		{"answer without stream", http.MethodPost, "/did/answer", fmt.Sprintf(`{"sdp":%q,"type":"answer"}`, testSDP), http.StatusBadRequest},
		{"answer unknown stream", http.MethodPost, "/did/answer", fmt.Sprintf(`{"sdp":%q,"type":"answer","stream_id":"nope"}`, testSDP), http.StatusNotFound},
		{"close unknown stream", http.MethodDelete, "/did/streams/nope", ``, http.StatusNotFound},
	}
	srv := newTestServer(t, &fakeUpstream{}, 5)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			req.Header.Set("Content-Type", "application/json")
			res, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer res.Body.Close()
			assert.Equal(t, tt.want, res.StatusCode)
		})
	}
}

func TestUpstreamFailureIsBadGateway(t *testing.T) {
	srv := newTestServer(t, &fakeUpstream{fail: true}, 5)
	client := relay.New(srv.URL, time.Second)

	_, err := client.SendOffer(t.Context(), webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: testSDP})
	require.ErrorIs(t, err, core.ErrRelayUnavailable)
}

func TestOfferRateLimit(t *testing.T) {
	srv := newTestServer(t, &fakeUpstream{}, 1)
	client := relay.New(srv.URL, time.Second)
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: testSDP}

	_, err := client.SendOffer(t.Context(), offer)
	require.NoError(t, err)
	_, err = client.SendOffer(t.Context(), offer)
	require.ErrorIs(t, err, core.ErrRelayProtocol)
	assert.Contains(t, err.Error(), "429")
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &fakeUpstream{}, 5)
	res, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.NotEmpty(t, res.Header.Get("Set-Cookie"))
}
