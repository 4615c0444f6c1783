// Package logging provides a small abstraction over slog so engine code can
// depend on a minimal interface (Logger) while callers plug in any structured
// logger. It also offers a contextual ConvFlowLogger carrying component,
// session and turn identifiers plus domain helpers for tool and provider
// calls.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger is the minimal logging interface used throughout ConvFlow. A nil
// Logger is never dereferenced; components substitute NoOpLogger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger { return &SlogAdapter{Logger: logger} }

// NoOpLogger discards all log messages. Useful for tests or when logging is
// disabled.
type NoOpLogger struct{}

// Debug discards the message.
func (NoOpLogger) Debug(string, ...any) {}

// Info discards the message.
func (NoOpLogger) Info(string, ...any) {}

// Warn discards the message.
func (NoOpLogger) Warn(string, ...any) {}

// Error discards the message.
func (NoOpLogger) Error(string, ...any) {}

// OrNoOp returns l, or a NoOpLogger when l is nil.
func OrNoOp(l Logger) Logger {
	if l == nil {
		return NoOpLogger{}
	}
	return l
}

// Config configures construction of a ConvFlowLogger.
type Config struct {
	Level     slog.Level
	Format    string // json or text
	Output    io.Writer
	AddSource bool
	Component string
}

// DefaultConfig returns a baseline JSON info-level configuration.
func DefaultConfig() *Config {
	return &Config{Level: slog.LevelInfo, Format: "json", Output: os.Stdout}
}

// ConvFlowLogger wraps slog.Logger adding cheap contextual cloning (component,
// session, turn) and domain convenience methods.
type ConvFlowLogger struct {
	logger    *slog.Logger
	component string
	sessionID string
	turnID    string
}

// New builds a ConvFlowLogger from a config (or defaults if nil).
func New(cfg *Config) *ConvFlowLogger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	return &ConvFlowLogger{logger: slog.New(handler), component: cfg.Component}
}

// WithComponent returns a copy bound to the logical component (memory,
// stream, tool, protocol, workflow, engine).
func (l *ConvFlowLogger) WithComponent(c string) *ConvFlowLogger {
	nl := *l
	nl.component = c
	return &nl
}

// WithSession returns a copy bound to session and turn identifiers.
func (l *ConvFlowLogger) WithSession(sessionID, turnID string) *ConvFlowLogger {
	nl := *l
	nl.sessionID = sessionID
	nl.turnID = turnID
	return &nl
}

func (l *ConvFlowLogger) attrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, 3)
	if l.component != "" {
		attrs = append(attrs, slog.String("component", l.component))
	}
	if l.sessionID != "" {
		attrs = append(attrs, slog.String("session_id", l.sessionID))
	}
	if l.turnID != "" {
		attrs = append(attrs, slog.String("turn_id", l.turnID))
	}
	return attrs
}

func (l *ConvFlowLogger) log(level slog.Level, msg string, args ...any) {
	attrs := l.attrs()
	for i := 0; i+1 < len(args); i += 2 {
		if k, ok := args[i].(string); ok {
			attrs = append(attrs, slog.Any(k, args[i+1]))
		}
	}
	l.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// Debug logs at debug level.
func (l *ConvFlowLogger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }

// Info logs at info level.
func (l *ConvFlowLogger) Info(msg string, args ...any) { l.log(slog.LevelInfo, msg, args...) }

// Warn logs at warn level.
func (l *ConvFlowLogger) Warn(msg string, args ...any) { l.log(slog.LevelWarn, msg, args...) }

// Error logs at error level.
func (l *ConvFlowLogger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

// LogToolCall records execution details for one capability invocation.
func (l *ConvFlowLogger) LogToolCall(capability string, dur time.Duration, status string, err error) {
	args := []any{"capability", capability, "duration_ms", dur.Milliseconds(), "status", status}
	if err != nil {
		args = append(args, "error", err.Error())
		l.Error("tool.call.failed", args...)
		return
	}
	l.Info("tool.call.completed", args...)
}

// LogProviderCall records latency and outcome of one model provider exchange.
func (l *ConvFlowLogger) LogProviderCall(provider string, dur time.Duration, err error) {
	args := []any{"provider", provider, "duration_ms", dur.Milliseconds()}
	if err != nil {
		args = append(args, "error", err.Error())
		l.Error("provider.call.failed", args...)
		return
	}
	l.Info("provider.call.completed", args...)
}
