package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ParseLevel maps debug, info, warn/warning and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Setup installs a text handler writing to w as the default logger. When
// rec is non-nil, Warn and above are also copied into rec.
func Setup(w io.Writer, level slog.Level, rec *Recorder) *slog.Logger {
	var handler slog.Handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	if rec != nil {
		handler = NewTeeHandler(handler, slog.LevelWarn, rec.Add)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
