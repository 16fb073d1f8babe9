package log

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	scigoerrors "github.com/YuminosukeSato/scigoex/pkg/errors"
)

// zerologLogger adapts zerolog.Logger to Logger.
type zerologLogger struct {
	l zerolog.Logger
}

// NewZerologLogger creates a zerolog-backed Logger writing to w. With console
// set, output is human readable via zerolog.ConsoleWriter.
func NewZerologLogger(w io.Writer, level Level, console bool) Logger {
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	l := zerolog.New(w).Level(toZerologLevel(level)).With().Timestamp().Logger()
	return &zerologLogger{l: l}
}

// FromZerolog wraps an existing zerolog.Logger.
func FromZerolog(l zerolog.Logger) Logger {
	return &zerologLogger{l: l}
}

func toZerologLevel(level Level) zerolog.Level {
	switch {
	case level <= LevelDebug:
		return zerolog.DebugLevel
	case level <= LevelInfo:
		return zerolog.InfoLevel
	case level <= LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

func (z *zerologLogger) Debug(msg string, fields ...any) { z.emit(z.l.Debug(), msg, fields) }
func (z *zerologLogger) Info(msg string, fields ...any) { z.emit(z.l.Info(), msg, fields) }
func (z *zerologLogger) Warn(msg string, fields ...any) { z.emit(z.l.Warn(), msg, fields) }
func (z *zerologLogger) Error(msg string, fields ...any) { z.emit(z.l.Error(), msg, fields) }

func (z *zerologLogger) emit(e *zerolog.Event, msg string, fields []any) {
	if e == nil {
		return
	}
	fields = withErrorContext(normalizeFields(fields))
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprint(fields[i])
		switch v := fields[i+1].(type) {
		case zerolog.LogObjectMarshaler:
			e = e.Object(key, v)
		case error:
			e = e.AnErr(key, v)
		default:
			e = e.Interface(key, v)
		}
	}
	e.Msg(msg)
}

func (z *zerologLogger) With(fields ...any) Logger {
	fields = normalizeFields(fields)
	ctx := z.l.With()
	for i := 0; i+1 < len(fields); i += 2 {
		ctx = ctx.Interface(fmt.Sprint(fields[i]), fields[i+1])
	}
	return &zerologLogger{l: ctx.Logger()}
}

func (z *zerologLogger) Enabled(_ context.Context, level Level) bool {
	return z.l.GetLevel() <= toZerologLevel(level)
}

// ZerologProvider implements LoggerProvider for a zerolog-backed Logger.
type ZerologProvider struct {
	base *zerologLogger
}

// NewZerologProvider returns a provider around l. l must come from
// NewZerologLogger or FromZerolog.
func NewZerologProvider(l Logger) *ZerologProvider {
	zl, ok := l.(*zerologLogger)
	if !ok {
		zl = &zerologLogger{l: zerolog.Nop()}
	}
	return &ZerologProvider{base: zl}
}

// GetLogger implements LoggerProvider.GetLogger.
func (p *ZerologProvider) GetLogger() Logger { return p.base }

// GetLoggerWithName implements LoggerProvider.GetLoggerWithName.
func (p *ZerologProvider) GetLoggerWithName(name string) Logger {
	return p.base.With(ComponentKey, name)
}

// SetLevel implements LoggerProvider.SetLevel.
func (p *ZerologProvider) SetLevel(level Level) {
	p.base = &zerologLogger{l: p.base.l.Level(toZerologLevel(level))}
}

// InstallZerologWarnings routes errors.Warn through l at warn level, with
// structured warnings emitted as objects.
func InstallZerologWarnings(l zerolog.Logger) {
	scigoerrors.SetZerologWarnFunc(func(w error) {
		e := l.Warn()
		if m, ok := w.(zerolog.LogObjectMarshaler); ok {
			e = e.Object("warning", m)
		} else {
			e = e.Str("warning", w.Error())
		}
		e.Msg(w.Error())
	})
}
