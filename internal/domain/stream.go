// Package domain contains entities without logic, just meta-data
package domain

import (
	"errors"
	"time"

	"github.com/dkeye/Avatar/internal/core"
)

const MaxClientTokenLen = 36

var (
	ErrClientTokenEmpty   = errors.New("client token empty")
	ErrClientTokenTooLong = errors.New("client token too long")
)

// ClientToken identifies one browser or CLI across relay calls. It is issued
// as a cookie by the relay.
type ClientToken string

func ParseClientToken(s string) (ClientToken, error) {
	if len(s) == 0 {
		return "", ErrClientTokenEmpty
	}
	if len(s) > MaxClientTokenLen {
		return "", ErrClientTokenTooLong
	}
	return ClientToken(s), nil
}

// Stream is one upstream avatar stream opened by the relay for a client.
type Stream struct {
	ID        core.StreamID `json:"id"`
	SessionID string        `json:"-"`
	Owner     ClientToken   `json:"-"`
	CreatedAt time.Time     `json:"created_at"`
	Answered  bool          `json:"answered"`
}

// NewStream is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewStream(up core.UpstreamStream, owner ClientToken) *Stream {
	return &Stream{
		ID:        up.ID,
		SessionID: up.SessionID,
		Owner:     owner,
		CreatedAt: time.Now(),
	}
}
