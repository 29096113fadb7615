// Package logger provides the structured logger shared by every subsystem:
// gateway pipeline, event bus, outbox processor, workflow engine. It wraps
// zerolog rather than the stdlib log package, so every call site carries
// structured fields (service name, correlation ids) instead of bare strings.
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is an explicit wrapper around zerolog.Logger, constructed once at
// process startup and passed down through constructors. It is never a
// package-level global; per spec.md's "no singletons required for
// correctness" design note, callers that want process-wide convenience may
// wrap one in their own registry.
type Logger struct {
	zl      zerolog.Logger
	service string
}

// Options controls how New builds the underlying zerolog.Logger.
type Options struct {
	// Pretty selects the human-readable console writer used in development;
	// production deployments should leave this false for JSON output.
	Pretty bool
	// LevelSet must be true for Level to take effect; otherwise New defaults
	// to zerolog.InfoLevel (the zero value of Level is DebugLevel, which
	// would otherwise silently become the default).
	LevelSet bool
	Level    zerolog.Level
	Output   io.Writer
}

// New builds a Logger for the named service.
func New(serviceName string, opts ...Options) *Logger {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}

	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stdout
	if o.Output != nil {
		out = o.Output
	}
	if o.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	level := zerolog.InfoLevel
	if o.LevelSet {
		level = o.Level
	}

	zl := zerolog.New(out).Level(level).With().Timestamp().Str("service", serviceName).Logger()

	return &Logger{zl: zl, service: serviceName}
}

// With returns a child logger carrying an additional correlation field, used
// to stamp a request id, workflow id, or saga id onto every subsequent log
// line produced for that unit of work.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, value).Logger(), service: l.service}
}

// Raw exposes the underlying zerolog.Logger for call sites that want the
// structured event builder (e.g. .Info().Str("route", name).Msg("matched")).
func (l *Logger) Raw() *zerolog.Logger {
	return &l.zl
}

func (l *Logger) Info(v ...interface{})  { l.zl.Info().Msg(sprint(v...)) }
func (l *Logger) Warn(v ...interface{})  { l.zl.Warn().Msg(sprint(v...)) }
func (l *Logger) Error(v ...interface{}) { l.zl.Error().Msg(sprint(v...)) }
func (l *Logger) Debug(v ...interface{}) { l.zl.Debug().Msg(sprint(v...)) }

func (l *Logger) Infof(format string, v ...interface{})  { l.zl.Info().Msgf(format, v...) }
func (l *Logger) Warnf(format string, v ...interface{})  { l.zl.Warn().Msgf(format, v...) }
func (l *Logger) Errorf(format string, v ...interface{}) { l.zl.Error().Msgf(format, v...) }
func (l *Logger) Debugf(format string, v ...interface{}) { l.zl.Debug().Msgf(format, v...) }

// Fatal logs at fatal level and exits the process.
func (l *Logger) Fatal(v ...interface{}) {
	l.zl.Fatal().Msg(sprint(v...))
}

func (l *Logger) Fatalf(format string, v ...interface{}) {
	l.zl.Fatal().Msgf(format, v...)
}

func sprint(v ...interface{}) string {
	if len(v) == 1 {
		if s, ok := v[0].(string); ok {
			return s
		}
	}
	return fmt.Sprint(v...)
}
