package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/deskpilot/internal/infrastructure/config"
)

// ServiceName is attached to every log entry as the "service" attribute.
const ServiceName = "deskpilot"

// Redacted replaces the value of every sensitive attribute.
const Redacted = "[redacted]"

// sensitiveKeys are always redacted. Sequences type credentials, and the
// API and InfluxDB tokens pass through config dumps.
var sensitiveKeys = []string{"password", "token", "auth_token", "secret", "text"}

// Logger wraps slog.Logger with deskpilot defaults.
//
// It satisfies the small Logger interfaces declared by the automation,
// desktop and remote packages, so one instance can be handed to all of them.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New creates a Logger writing to stdout, or stderr when cfg.Output says so.
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		output = os.Stderr
	}
	return NewWithWriter(cfg, version, output)
}

// NewWithWriter creates a Logger writing to w.
//
// The format is JSON unless cfg.Format is "text". Every entry carries the
// service and version attributes, and attributes named in sensitiveKeys or
// cfg.Redact are written as Redacted at any nesting depth.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redactor(cfg.Redact),
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler).With("service", ServiceName, "version", version),
	}
}

// redactor returns a ReplaceAttr func masking sensitive keys.
// Matching is case-insensitive on the attribute key.
func redactor(extra []string) func(groups []string, a slog.Attr) slog.Attr {
	keys := make(map[string]struct{}, len(sensitiveKeys)+len(extra))
	for _, k := range sensitiveKeys {
		keys[k] = struct{}{}
	}
	for _, k := range extra {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keys[k] = struct{}{}
		}
	}

	return func(_ []string, a slog.Attr) slog.Attr {
		if a.Value.Kind() == slog.KindGroup {
			return a
		}
		if _, ok := keys[strings.ToLower(a.Key)]; ok {
			return slog.String(a.Key, Redacted)
		}
		return a
	}
}

// parseLevel converts a config level to slog.Level; unknown values mean info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a new Logger with additional default attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component derives a logger tagged with the emitting subsystem, e.g.
// "executor", "watcher" or "api".
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default is the logger used before configuration is loaded: info-level
// JSON on stderr, keeping stdout free for command output.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stderr"}, "dev")
}
