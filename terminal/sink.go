package terminal

import (
	"context"
	"log/slog"
	"time"
)

// Entry is one logged command execution.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
	Output    string    `json:"output"`
	Success   bool      `json:"success"`
}

// LogSink receives every execution, successful or not. Implementations
// handle their own errors.
type LogSink interface {
	Log(ctx context.Context, e Entry)
}

// SlogSink writes entries to a structured logger at debug level, failures
// at warn.
type SlogSink struct {
	Logger *slog.Logger
}

func (s SlogSink) Log(ctx context.Context, e Entry) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelDebug
	if !e.Success {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "terminal command",
		"command", e.Command,
		"success", e.Success,
		"timestamp", FormatTimestamp(e.Timestamp),
		"output_len", len(e.Output),
	)
}

// MultiSink fans entries out to each sink in order.
type MultiSink []LogSink

func (m MultiSink) Log(ctx context.Context, e Entry) {
	for _, s := range m {
		if s != nil {
			s.Log(ctx, e)
		}
	}
}

// SinkFunc adapts a function to LogSink.
type SinkFunc func(ctx context.Context, e Entry)

func (f SinkFunc) Log(ctx context.Context, e Entry) { f(ctx, e) }
