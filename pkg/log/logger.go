package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Output formats accepted by SetupLogger.
const (
	FormatJSON    = "json"
	FormatText    = "text"
	FormatConsole = "console"
)

// NewHandler builds the slog handler used by SetupLogger. JSON output uses
// Cloud Logging attribute names.
func NewHandler(w io.Writer, level Level, format string) (slog.Handler, error) {
	ops := slog.HandlerOptions{
		AddSource: level <= LevelDebug,
		Level:     slog.Level(level),
	}
	switch strings.ToLower(format) {
	case "", FormatJSON:
		ops.ReplaceAttr = func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.LevelKey:
				attr = slog.Attr{Key: "severity", Value: attr.Value}
			case slog.MessageKey:
				attr = slog.Attr{Key: "message", Value: attr.Value}
			case slog.SourceKey:
				attr = slog.Attr{Key: "logging.googleapis.com/sourceLocation", Value: attr.Value}
			}
			return attr
		}
		return WrapByErrFmtHandler(slog.NewJSONHandler(w, &ops)), nil
	case FormatText:
		return WrapByErrFmtHandler(slog.NewTextHandler(w, &ops)), nil
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
}

// SetupLogger installs the process-wide logger. "json" and "text" are backed
// by log/slog, "console" by zerolog's console writer.
func SetupLogger(level, format string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	if strings.EqualFold(format, FormatConsole) {
		zl := NewZerologLogger(os.Stderr, lvl, true)
		SetProvider(NewZerologProvider(zl))
		InstallZerologWarnings(zl.(*zerologLogger).l)
		return nil
	}
	handler, err := NewHandler(os.Stderr, lvl, format)
	if err != nil {
		return err
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	SetProvider(NewSlogProvider(logger, lvl))
	return nil
}

// ParseLevel converts "debug", "info", "warn" or "error" to a Level.
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(level) {
	case "info", "":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("invalid log level :%s", level)
	}
}

// ToLogLevel is ParseLevel for callers that have already validated the level.
func ToLogLevel(level string) slog.Level {
	lvl, err := ParseLevel(level)
	if err != nil {
		panic(err.Error())
	}
	return slog.Level(lvl)
}

const (
	ErrAttrKey        = "error"
	StacktraceAttrKey = "stacktrace"
)

// ErrAttr is a wrapper to pass err to slog.
func ErrAttr(err error) slog.Attr {
	return slog.Any(ErrAttrKey, err)
}
