package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const DefaultSTUNServer = "stun:stun.l.google.com:19302"

type Config struct {
	Mode     string `mapstructure:"mode"`
	Port     int    `mapstructure:"port"`
	Secret   string `mapstructure:"secret"`
	LogLevel string `mapstructure:"log_level"`

	RelayURL     string        `mapstructure:"relay_url"`
	ICEServers   []string      `mapstructure:"ice_servers"`
	RelayTimeout time.Duration `mapstructure:"relay_timeout"`
	GracePeriod  time.Duration `mapstructure:"grace_period"`

	OfferRateLimit    int           `mapstructure:"offer_rate_limit"`
	OfferRateInterval time.Duration `mapstructure:"offer_rate_interval"`

	DID    DIDConfig    `mapstructure:"did"`
	Output OutputConfig `mapstructure:"output"`
}

// DIDConfig is the relay's upstream avatar service.
type DIDConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	SourceURL string        `mapstructure:"source_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// OutputConfig controls where the client records the avatar stream.
type OutputConfig struct {
	Dir      string `mapstructure:"dir"`
	Autoplay bool   `mapstructure:"autoplay"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8000)
	v.SetDefault("secret", "change-me")
	v.SetDefault("log_level", "info")

	v.SetDefault("relay_url", "http://localhost:8000")
	v.SetDefault("ice_servers", []string{DefaultSTUNServer})
	v.SetDefault("relay_timeout", "30s")
	v.SetDefault("grace_period", "5s")

	v.SetDefault("offer_rate_limit", 5)
	v.SetDefault("offer_rate_interval", "1m")

	v.SetDefault("did.base_url", "https://api.d-id.com")
	v.SetDefault("did.api_key", "")
	v.SetDefault("did.source_url", "")
	v.SetDefault("did.timeout", "30s")

	v.SetDefault("output.dir", "./recordings")
	v.SetDefault("output.autoplay", true)
}

func Load() (*Config, error) {
	return LoadWithFlags(nil)
}

// LoadWithFlags layers defaults, the config file, AVATAR_* environment
// variables and, when fs is non-nil, explicitly set flags.
func LoadWithFlags(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("AVATAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("relay", cfg.RelayURL).
		Strs("ice_servers", cfg.ICEServers).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.ICEServers) == 0 {
		return fmt.Errorf("at least one ICE server is required")
	}
	if c.RelayTimeout <= 0 {
		return fmt.Errorf("relay_timeout must be positive, got: %s", c.RelayTimeout)
	}
	if c.GracePeriod <= 0 {
		return fmt.Errorf("grace_period must be positive, got: %s", c.GracePeriod)
	}
	return nil
}

// ValidateRelay checks the settings only the relay needs. The avatar service
// refuses to open a stream without an image to animate.
func (c *Config) ValidateRelay() error {
	if c.DID.BaseURL == "" {
		return fmt.Errorf("did.base_url is required")
	}
	if c.DID.SourceURL == "" {
		return fmt.Errorf("did.source_url is required")
	}
	u, err := url.Parse(c.DID.SourceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("did.source_url must be an http(s) URL, got: %q", c.DID.SourceURL)
	}
	return nil
}
