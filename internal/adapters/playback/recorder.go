// Package playback holds the surfaces remote avatar tracks are rendered to.
package playback

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/h264writer"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Avatar/internal/core"
)

var ErrUnsupportedCodec = errors.New("unsupported codec")

// Recorder writes the bound track to a container file under dir. With
// autoplay disabled it behaves like a browser that refuses to start media
// without a user gesture.
type Recorder struct {
	dir      string
	autoplay bool
	sid      string

	mu      sync.Mutex
	track   core.RemoteTrack
	w       media.Writer
	path    string
	playing bool
	closed  bool
	done    chan struct{}
}

func NewRecorder(dir string, autoplay bool, sid string) *Recorder {
	return &Recorder{dir: dir, autoplay: autoplay, sid: sid}
}

func (r *Recorder) Attach(track core.RemoteTrack) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return core.ErrSessionClosed
	}
	if r.track != nil {
		return fmt.Errorf("recorder already bound to track %s", r.track.ID())
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}
	w, path, err := openWriter(r.dir, r.sid, track.Codec())
	if err != nil {
		return err
	}
	r.track, r.w, r.path = track, w, path
	log.Info().Str("module", "playback").Str("sid", r.sid).Str("file", path).Msg("recorder attached")
	return nil
}

func openWriter(dir, sid string, codec webrtc.RTPCodecParameters) (media.Writer, string, error) {
	mime := strings.ToLower(codec.MimeType)
	switch mime {
	case strings.ToLower(webrtc.MimeTypeVP8):
		path := filepath.Join(dir, sid+".ivf")
		w, err := ivfwriter.New(path)
		return w, path, err
	case strings.ToLower(webrtc.MimeTypeH264):
		path := filepath.Join(dir, sid+".h264")
		w, err := h264writer.New(path)
		return w, path, err
	case strings.ToLower(webrtc.MimeTypeOpus):
		path := filepath.Join(dir, sid+".ogg")
		rate, channels := codec.ClockRate, codec.Channels
		if rate == 0 {
			rate = 48000
		}
		if channels == 0 {
			channels = 2
		}
		w, err := oggwriter.New(path, rate, channels)
		return w, path, err
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedCodec, codec.MimeType)
	}
}

func (r *Recorder) Play(gesture bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return core.ErrSessionClosed
	}
	if r.track == nil {
		return errors.New("no track attached")
	}
	if r.playing {
		return nil
	}
	if !r.autoplay && !gesture {
		return core.ErrPlaybackBlocked
	}
	r.playing = true
	r.done = make(chan struct{})
	go r.loop(r.track, r.done)
	return nil
}

// loop copies RTP from the track into the writer until the track ends or the
// recorder closes.
func (r *Recorder) loop(track core.RemoteTrack, done chan struct{}) {
	defer close(done)
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			log.Info().Err(err).Str("module", "playback").Str("sid", r.sid).Msg("track ended")
			return
		}
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return
		}
		err = r.w.WriteRTP(pkt)
		r.mu.Unlock()
		if err != nil {
			log.Error().Err(err).Str("module", "playback").Str("sid", r.sid).Msg("write RTP")
			return
		}
	}
}

// Path returns the file being recorded, empty before Attach.
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Done is closed when the copy loop exits; nil before playback starts.
func (r *Recorder) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.playing = false
	if r.w == nil {
		return nil
	}
	return r.w.Close()
}
