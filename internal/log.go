package internal

import (
	"io"
	"log/slog"
	"strings"

	"github.com/lmittmann/tint"
)

// LevelTrace sits below slog's debug level for per-arrangement diagnostics
const LevelTrace = slog.LevelDebug - 4

// ParseLogLevel maps ERROR, WARN, INFO, DEBUG and TRACE (any case) to slog levels;
// anything else is INFO
func ParseLogLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return slog.LevelError
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "DEBUG":
		return slog.LevelDebug
	case "TRACE":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a tint console logger at the given level
func NewLogger(w io.Writer, level string, noColor bool) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      ParseLogLevel(level),
		TimeFormat: "15:04:05",
		NoColor:    noColor,
	}))
}
