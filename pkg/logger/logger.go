// Package logger provides the structured logger used across the platform.
// It is a thin wrapper around zerolog so call sites stay decoupled from the
// backend.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog logger with a component name.
type Logger struct {
	zl zerolog.Logger
}

// New creates a logger for the named component writing to the given sink.
func New(name string, out io.Writer, level zerolog.Level) *Logger {
	if out == nil {
		out = os.Stderr
	}
	zl := zerolog.New(out).Level(level).With().
		Timestamp().
		Str("component", name).
		Logger()
	return &Logger{zl: zl}
}

// NewDefault creates a logger for the named component with the level taken
// from LOG_LEVEL (info when unset or unrecognised).
func NewDefault(name string) *Logger {
	level := zerolog.InfoLevel
	if raw := strings.TrimSpace(os.Getenv("LOG_LEVEL")); raw != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(raw)); err == nil {
			level = parsed
		}
	}
	return New(name, os.Stderr, level)
}

// WithField returns a logger with an additional field attached to every entry.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger()}
}

// WithError returns a logger with the error attached.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zl: l.zl.With().Err(err).Logger()}
}

func (l *Logger) Debug(msg string) { l.zl.Debug().Msg(msg) }
func (l *Logger) Info(msg string)  { l.zl.Info().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.zl.Warn().Msg(msg) }
func (l *Logger) Error(msg string) { l.zl.Error().Msg(msg) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.zl.Debug().Msgf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.zl.Info().Msgf(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.zl.Warn().Msgf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.zl.Error().Msgf(format, args...) }
