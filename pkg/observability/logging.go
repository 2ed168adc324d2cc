package observability

import (
	"io"
	"log/slog"
	"strings"
)

// NewLogger builds the process logger: a text handler on w carrying the
// service attribute. Packages receive this logger (or a child of it) rather
// than constructing their own.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h).With(slog.String("service", "chronicle"))
}

// ParseLevel maps a configured level string to a slog level. Unknown values
// fall back to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
