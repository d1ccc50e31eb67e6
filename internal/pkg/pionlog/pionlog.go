// Package pionlog routes pion's leveled logging into zerolog.
package pionlog

import (
	"github.com/pion/logging"
	"github.com/rs/zerolog"
)

// Factory is a logging.LoggerFactory writing to a zerolog logger.
type Factory struct {
	logger zerolog.Logger
}

// New returns a Factory whose loggers derive from logger.
func New(logger *zerolog.Logger) *Factory {
	return &Factory{logger: logger.With().Str("component", "pion").Logger()}
}

// NewLogger returns a logger tagged with scope.
func (f *Factory) NewLogger(scope string) logging.LeveledLogger {
	return &leveled{f.logger.With().Str("scope", scope).Logger()}
}

type leveled struct {
	zerolog.Logger
}

func (l *leveled) Trace(msg string) {
	l.Logger.Trace().Msg(msg)
}

func (l *leveled) Tracef(format string, args ...interface{}) {
	l.Logger.Trace().Msgf(format, args...)
}

func (l *leveled) Debug(msg string) {
	l.Logger.Debug().Msg(msg)
}

func (l *leveled) Debugf(format string, args ...interface{}) {
	l.Logger.Debug().Msgf(format, args...)
}

func (l *leveled) Info(msg string) {
	l.Logger.Info().Msg(msg)
}

func (l *leveled) Infof(format string, args ...interface{}) {
	l.Logger.Info().Msgf(format, args...)
}

func (l *leveled) Warn(msg string) {
	l.Logger.Warn().Msg(msg)
}

func (l *leveled) Warnf(format string, args ...interface{}) {
	l.Logger.Warn().Msgf(format, args...)
}

func (l *leveled) Error(msg string) {
	l.Logger.Error().Msg(msg)
}

func (l *leveled) Errorf(format string, args ...interface{}) {
	l.Logger.Error().Msgf(format, args...)
}
