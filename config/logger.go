package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/lmittmann/tint"
)

// ParseLevel maps a level name to a slog.Level. Unknown names are an error.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// NewLogHandler builds the console handler for the given settings: tint's
// coloured text output, or JSON lines when format is "json".
func NewLogHandler(output io.Writer, settings LogSettings) (slog.Handler, error) {
	level, err := ParseLevel(settings.Level)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(settings.Format) {
	case "", "text":
		return tint.NewHandler(output, &tint.Options{
			Level:      level,
			TimeFormat: "2006-01-02 15:04:05.000Z07:00",
			ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
				if a.Value.Kind() == slog.KindAny {
					if _, ok := a.Value.Any().(error); ok {
						return tint.Attr(9, a)
					}
				}
				return a
			},
		}), nil
	case "json":
		return slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level}), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", settings.Format)
	}
}

// NewLogger returns a logger writing to output per settings.
func NewLogger(output io.Writer, settings LogSettings) (*slog.Logger, error) {
	handler, err := NewLogHandler(output, settings)
	if err != nil {
		return nil, err
	}
	return slog.New(handler), nil
}
