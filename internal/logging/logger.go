package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New creates a slog.Logger based on textual log output.
func New(level string) *slog.Logger {
	return NewWriter(level, os.Stdout)
}

// NewWriter creates a text logger writing to w.
func NewWriter(level string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	handler := slog.NewTextHandler(w, opts)
	return slog.New(handler)
}

// NewWithFile logs to console and to a daily log_YYYYMMDD.txt under dir. The
// returned closer releases the current log file.
func NewWithFile(level, dir string, console io.Writer) (*slog.Logger, io.Closer, error) {
	file, err := NewDailyFile(dir)
	if err != nil {
		return nil, nil, err
	}
	return NewWriter(level, io.MultiWriter(console, file)), file, nil
}

func parseLevel(level string) slog.Leveler {
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
