package logging

import (
	"io"
	"log/slog"
	"strings"
)

// Level is the adjustable level of a logger built by NewWithWriter. The
// base level comes from configuration; disabling diagnostic logging at
// runtime raises it to WARN.
type Level struct {
	base slog.Level
	v    slog.LevelVar
}

// SetDiagnostics toggles between the configured level and WARN.
func (l *Level) SetDiagnostics(enabled bool) {
	if enabled || l.base > slog.LevelWarn {
		l.v.Set(l.base)
		return
	}
	l.v.Set(slog.LevelWarn)
}

// Level implements slog.Leveler.
func (l *Level) Level() slog.Level {
	return l.v.Level()
}

// NewWithWriter creates a text slog.Logger writing to w, together with the
// Level that controls it.
func NewWithWriter(w io.Writer, level string) (*slog.Logger, *Level) {
	lv := &Level{base: parseLevel(level)}
	lv.v.Set(lv.base)
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})
	return slog.New(handler), lv
}

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
