package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Log is the global logger instance
var Log *slog.Logger

// level is the dynamic log level, changeable at runtime via SetLevel.
var level slog.LevelVar

// Init initializes the global logger with the specified level.
// An optional format selects the handler: "text", "json" or "color".
// When no format is given, color is used if stdout is a terminal.
func Init(levelStr string, format ...string) {
	SetLevel(levelStr)
	f := ""
	if len(format) > 0 {
		f = format[0]
	}
	Log = slog.New(newHandler(os.Stdout, f, isatty.IsTerminal(os.Stdout.Fd())))
}

func newHandler(w io.Writer, format string, tty bool) slog.Handler {
	switch strings.ToLower(format) {
	case "json":
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: &level})
	case "color":
		return tint.NewHandler(w, &tint.Options{Level: &level, TimeFormat: time.TimeOnly})
	case "text":
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: &level})
	}
	if tty {
		return tint.NewHandler(w, &tint.Options{Level: &level, TimeFormat: time.TimeOnly})
	}
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: &level})
}

// SetLevel changes the log level at runtime. Valid values: debug, info, warn, error.
// Invalid values fall back to info.
func SetLevel(levelStr string) {
	var lvl slog.Level
	switch strings.ToLower(levelStr) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	level.Set(lvl)
}

// Debug logs a debug message
func Debug(msg string, args ...any) {
	if Log != nil {
		Log.Debug(msg, args...)
	}
}

// Info logs an info message
func Info(msg string, args ...any) {
	if Log != nil {
		Log.Info(msg, args...)
	}
}

// Warn logs a warning message
func Warn(msg string, args ...any) {
	if Log != nil {
		Log.Warn(msg, args...)
	}
}

// Error logs an error message
func Error(msg string, args ...any) {
	if Log != nil {
		Log.Error(msg, args...)
	}
}
