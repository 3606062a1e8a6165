package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"github.com/Oudwins/somedaex/internals/conf"
)

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// New returns a tint logger writing to w. Colour is only used when w is a
// terminal.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    !isTerminal(w),
	}))
}

// Init builds the process logger from config, teeing to the configured log
// file when there is one. The returned file is nil when no file is used.
func Init(config *conf.Config, stderr io.Writer) (*slog.Logger, *os.File, error) {
	level := ParseLevel(config.Log.Level)
	if config.Log.File == "" {
		logger := New(stderr, level)
		slog.SetDefault(logger)
		return logger, nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(config.Log.File), 0o755); err != nil {
		return nil, nil, err
	}
	logFile, err := os.OpenFile(config.Log.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	handler := tint.NewHandler(io.MultiWriter(stderr, logFile), &tint.Options{
		Level:     level,
		AddSource: level == slog.LevelDebug,
		NoColor:   true,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, logFile, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
