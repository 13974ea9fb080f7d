package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Avatar/internal/core"
)

func TestParseClientToken(t *testing.T) {
	_, err := ParseClientToken("")
	require.ErrorIs(t, err, ErrClientTokenEmpty)

	_, err = ParseClientToken(strings.Repeat("a", MaxClientTokenLen+1))
	require.ErrorIs(t, err, ErrClientTokenTooLong)

	tok, err := ParseClientToken("4f1c0c1e-0000-4000-8000-000000000000")
	require.NoError(t, err)
	assert.Equal(t, ClientToken("4f1c0c1e-0000-4000-8000-000000000000"), tok)
}

func TestNewStream(t *testing.T) {
	s := NewStream(core.UpstreamStream{ID: "strm_1", SessionID: "sess"}, "ct")
	assert.Equal(t, core.StreamID("strm_1"), s.ID)
	assert.Equal(t, "sess", s.SessionID)
	assert.Equal(t, ClientToken("ct"), s.Owner)
	assert.False(t, s.Answered)
	assert.False(t, s.CreatedAt.IsZero())
}
