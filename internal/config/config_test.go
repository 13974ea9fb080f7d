package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "missing")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, []string{DefaultSTUNServer}, cfg.ICEServers)
	assert.Equal(t, 30*time.Second, cfg.RelayTimeout)
	assert.Equal(t, 5*time.Second, cfg.GracePeriod)
	assert.Equal(t, "https://api.d-id.com", cfg.DID.BaseURL)
	assert.True(t, cfg.Output.Autoplay)
}

func TestLoadLayersFileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("CONFIG_ENV", "test")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), []byte(`
port: 9000
relay_url: http://relay.local
grace_period: 2s
did:
  api_key: from-file
`), 0o644))
	t.Setenv("AVATAR_DID_API_KEY", "from-env")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("relay_url", "", "")
	require.NoError(t, fs.Parse([]string{"--relay_url=http://flag.local"}))

	cfg, err := LoadWithFlags(fs)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.GracePeriod)
	assert.Equal(t, "from-env", cfg.DID.APIKey)
	assert.Equal(t, "http://flag.local", cfg.RelayURL)
}

func TestValidate(t *testing.T) {
	base := Config{ICEServers: []string{DefaultSTUNServer}, RelayTimeout: time.Second, GracePeriod: time.Second}
	require.NoError(t, base.Validate())

	noICE := base
	noICE.ICEServers = nil
	require.Error(t, noICE.Validate())

	noTimeout := base
	noTimeout.RelayTimeout = 0
	require.Error(t, noTimeout.Validate())

	noGrace := base
	noGrace.GracePeriod = -time.Second
	require.Error(t, noGrace.Validate())
}

func TestValidateRelay(t *testing.T) {
	tests := []struct {
		name    string
		did     DIDConfig
		wantErr bool
	}{
		{"complete", DIDConfig{BaseURL: "https://api.d-id.com", SourceURL: "https://example.com/face.png"}, false},
		{"missing source", DIDConfig{BaseURL: "https://api.d-id.com"}, true},
		{"relative source", DIDConfig{BaseURL: "https://api.d-id.com", SourceURL: "face.png"}, true},
		{"non-http source", DIDConfig{BaseURL: "https://api.d-id.com", SourceURL: "s3://bucket/face.png"}, true},
		{"missing base", DIDConfig{SourceURL: "https://example.com/face.png"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{DID: tt.did}
			err := cfg.ValidateRelay()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestDefaultsLeaveSourceURLUnset(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "missing")
	cfg, err := Load()
	require.NoError(t, err)
	require.Error(t, cfg.ValidateRelay())
}

func TestSetLogLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	SetLogLevel("warn")
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
	SetLogLevel("nonsense")
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
}
