package config

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetLogLevel applies level globally. An unknown level keeps the current one.
func SetLogLevel(level string) {
	if level == "" {
		return
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		log.Warn().Err(err).Str("module", "config").Str("level", level).Msg("unknown log level, keeping current")
		return
	}
	zerolog.SetGlobalLevel(lvl)
}
