package core

import "context"

// Assistant is the conversational backend next to the avatar: speech to text,
// text completion and speech synthesis. It is plain request/response and
// never touches the media session.
type Assistant interface {
	TranscribeAudio(ctx context.Context, filename string, audio []byte) (string, error)
	GetReply(ctx context.Context, prompt string) (string, error)
	// Synthesize returns spoken audio for text.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
