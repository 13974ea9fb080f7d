package rtc

import (
	"github.com/pion/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// zerologFactory hands pion a LeveledLogger per scope ("ice", "dtls", ...).
type zerologFactory struct{}

func NewLoggerFactory() logging.LoggerFactory { return zerologFactory{} }

func (zerologFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{l: log.Logger.With().Str("module", "pion").Str("scope", scope).Logger()}
}

type pionLogger struct {
	l zerolog.Logger
}

// pion is chatty below warn: debug and info drop one level, warn and error
// pass through.
func (p *pionLogger) Trace(msg string)                          { p.l.Trace().Msg(msg) }
func (p *pionLogger) Tracef(format string, args ...interface{}) { p.l.Trace().Msgf(format, args...) }
func (p *pionLogger) Debug(msg string)                          { p.l.Trace().Msg(msg) }
func (p *pionLogger) Debugf(format string, args ...interface{}) { p.l.Trace().Msgf(format, args...) }
func (p *pionLogger) Info(msg string)                           { p.l.Debug().Msg(msg) }
func (p *pionLogger) Infof(format string, args ...interface{})  { p.l.Debug().Msgf(format, args...) }
func (p *pionLogger) Warn(msg string)                           { p.l.Warn().Msg(msg) }
func (p *pionLogger) Warnf(format string, args ...interface{})  { p.l.Warn().Msgf(format, args...) }
func (p *pionLogger) Error(msg string)                          { p.l.Error().Msg(msg) }
func (p *pionLogger) Errorf(format string, args ...interface{}) { p.l.Error().Msgf(format, args...) }
