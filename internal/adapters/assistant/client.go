// Package assistant is the client of the backend's speech-to-text, chat and
// text-to-speech endpoints.
package assistant

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const (
	STTPath  = "/stt"
	ChatPath = "/chat"
	TTSPath  = "/tts"
)

var (
	ErrEmptyAudio  = errors.New("empty audio")
	ErrEmptyPrompt = errors.New("empty prompt")
	ErrEmptyText   = errors.New("empty text")
)

type sttReply struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

type chatReply struct {
	Reply string `json:"reply"`
	Error string `json:"error"`
}

type ttsError struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
	Status int    `json:"status"`
}

type Client struct {
	hc *resty.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{hc: resty.New().SetBaseURL(baseURL).SetTimeout(timeout)}
}

// TranscribeAudio uploads audio as a multipart file and returns its text.
func (c *Client) TranscribeAudio(ctx context.Context, filename string, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}
	if filename == "" {
		filename = "audio.webm"
	}
	var out sttReply
	res, err := c.hc.R().
		SetContext(ctx).
		SetFileReader("file", filename, bytes.NewReader(audio)).
		SetResult(&out).
		SetError(&out).
		Post(STTPath)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	if res.IsError() {
		return "", fmt.Errorf("transcribe: status %d: %s", res.StatusCode(), out.Error)
	}
	log.Debug().Str("module", "adapters.assistant").Int("bytes", len(audio)).Int("chars", len(out.Text)).Msg("transcribed")
	return out.Text, nil
}

// GetReply sends prompt as a form field and returns the completion.
func (c *Client) GetReply(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", ErrEmptyPrompt
	}
	var out chatReply
	res, err := c.hc.R().
		SetContext(ctx).
		SetFormData(map[string]string{"prompt": prompt}).
		SetResult(&out).
		SetError(&out).
		Post(ChatPath)
	if err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}
	if res.IsError() {
		return "", fmt.Errorf("chat: status %d: %s", res.StatusCode(), out.Error)
	}
	return out.Reply, nil
}

// Synthesize sends text to the speech provider behind the backend and returns
// the encoded audio (MP3).
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	var failure ttsError
	res, err := c.hc.R().
		SetContext(ctx).
		SetHeader("Accept", "audio/mpeg").
		SetFormData(map[string]string{"text": text}).
		SetError(&failure).
		Post(TTSPath)
	if err != nil {
		return nil, fmt.Errorf("tts: %w", err)
	}
	if res.IsError() {
		msg := failure.Error
		if msg == "" {
			msg = failure.Detail
		}
		return nil, fmt.Errorf("tts: status %d: %s", res.StatusCode(), msg)
	}
	audio := res.Body()
	if len(audio) == 0 {
		return nil, fmt.Errorf("tts: %w", ErrEmptyAudio)
	}
	log.Debug().Str("module", "adapters.assistant").Int("chars", len(text)).Int("bytes", len(audio)).Msg("synthesized")
	return audio, nil
}
