package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedAssistant struct {
	heard  []byte
	prompt string
	said   string
}

func (s *scriptedAssistant) TranscribeAudio(_ context.Context, _ string, audio []byte) (string, error) {
	s.heard = audio
	return "what is webrtc", nil
}

func (s *scriptedAssistant) GetReply(_ context.Context, prompt string) (string, error) {
	s.prompt = prompt
	return "a set of protocols", nil
}

func (s *scriptedAssistant) Synthesize(_ context.Context, text string) ([]byte, error) {
	s.said = text
	return []byte("ID3mp3"), nil
}

func TestRunAskTranscribesThenReplies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.webm")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	a := &scriptedAssistant{}

	require.NoError(t, runAsk(t.Context(), cmd, a, "", path, ""))
	assert.Equal(t, []byte("audio"), a.heard)
	assert.Equal(t, "what is webrtc", a.prompt)
	assert.Equal(t, "you: what is webrtc\navatar: a set of protocols\n", out.String())
	assert.Empty(t, a.said)
}

func TestRunAskWritesSpokenReply(t *testing.T) {
	speak := filepath.Join(t.TempDir(), "reply.mp3")
	cmd := &cobra.Command{}
	cmd.SetOut(&bytes.Buffer{})
	a := &scriptedAssistant{}

	require.NoError(t, runAsk(t.Context(), cmd, a, "what is webrtc", "", speak))
	assert.Equal(t, "a set of protocols", a.said)
	data, err := os.ReadFile(speak)
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3mp3"), data)
}

func TestFlagNamesNormalize(t *testing.T) {
	root := newRootCmd()
	assert.NotNil(t, root.PersistentFlags().Lookup("relay_url"))
	assert.NotNil(t, root.PersistentFlags().Lookup("relay-url"))
}
