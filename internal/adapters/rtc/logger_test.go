package rtc

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPionLoggerLevels(t *testing.T) {
	tests := []struct {
		name  string
		log   func(p *pionLogger)
		level string
	}{
		{"debug drops to trace", func(p *pionLogger) { p.Debugf("gathered %d", 3) }, "trace"},
		{"info drops to debug", func(p *pionLogger) { p.Infof("gathered %d", 3) }, "debug"},
		{"warn passes through", func(p *pionLogger) { p.Warnf("gathered %d", 3) }, "warn"},
		{"error passes through", func(p *pionLogger) { p.Errorf("gathered %d", 3) }, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			p := &pionLogger{l: zerolog.New(&buf).Level(zerolog.TraceLevel)}
			tt.log(p)

			var line map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
			assert.Equal(t, tt.level, line["level"])
			assert.Equal(t, "gathered 3", line["message"])
		})
	}
}
