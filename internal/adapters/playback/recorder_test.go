package playback

import (
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Avatar/internal/core"
)

type scriptedTrack struct {
	mime string

	mu      sync.Mutex
	packets []*rtp.Packet
}

func (s *scriptedTrack) ID() string                { return "track" }
func (s *scriptedTrack) StreamID() string          { return "stream" }
func (s *scriptedTrack) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeAudio }
func (s *scriptedTrack) Codec() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: s.mime, ClockRate: 48000, Channels: 2},
	}
}

func (s *scriptedTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.packets) == 0 {
		return nil, nil, io.EOF
	}
	p := s.packets[0]
	s.packets = s.packets[1:]
	return p, nil, nil
}

func opusTrack(n int) *scriptedTrack {
	t := &scriptedTrack{mime: webrtc.MimeTypeOpus}
	for i := 0; i < n; i++ {
		t.packets = append(t.packets, &rtp.Packet{
			Header:  rtp.Header{Version: 2, SequenceNumber: uint16(i), Timestamp: uint32(i * 960)},
			Payload: []byte{0xfc, 0xff, 0xfe},
		})
	}
	return t
}

func TestRecorderWritesOpusToOgg(t *testing.T) {
	r := NewRecorder(t.TempDir(), true, "s1")
	require.NoError(t, r.Attach(opusTrack(5)))
	require.NoError(t, r.Play(false))

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("copy loop did not finish")
	}
	require.NoError(t, r.Close())

	data, err := os.ReadFile(r.Path())
	require.NoError(t, err)
	assert.Equal(t, "OggS", string(data[:4]))
}

func TestRecorderWithoutAutoplayNeedsGesture(t *testing.T) {
	r := NewRecorder(t.TempDir(), false, "s1")
	require.NoError(t, r.Attach(opusTrack(1)))

	require.ErrorIs(t, r.Play(false), core.ErrPlaybackBlocked)
	require.NoError(t, r.Play(true))
	require.NoError(t, r.Play(true))
	require.NoError(t, r.Close())
}

func TestRecorderRejectsUnsupportedCodec(t *testing.T) {
	r := NewRecorder(t.TempDir(), true, "s1")
	err := r.Attach(&scriptedTrack{mime: "video/AV1"})
	require.ErrorIs(t, err, ErrUnsupportedCodec)
}

func TestRecorderBindsOnce(t *testing.T) {
	r := NewRecorder(t.TempDir(), true, "s1")
	require.NoError(t, r.Attach(opusTrack(0)))
	require.Error(t, r.Attach(opusTrack(0)))
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	require.ErrorIs(t, r.Play(true), core.ErrSessionClosed)
}
