// Package logger provides the agent's single global structured logger.
// It writes human-readable text to stdout and structured JSON lines to
// the agent's log file (~/.medialib/agent.log) at the same time,
// fanning one slog.Logger out to two handlers.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Log is the global logger instance.
var Log *slog.Logger

// level is the dynamic log level, changeable at runtime via SetLevel.
// Uses slog.LevelVar which is backed by atomic.Int64 — safe for concurrent use.
var level slog.LevelVar

// logFile holds the open file handle so Close can flush it on shutdown.
var logFile *os.File

// Init initializes the global logger with the specified level, writing
// text to stdout only. Call InitWithFile instead when a log file path is
// available (the normal agent startup path).
func Init(levelStr string) {
	SetLevel(levelStr)
	Log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: &level,
	}))
}

// InitWithFile initializes the global logger with the specified level,
// writing text to stdout and JSON lines to logPath. If logPath can't be
// opened, it falls back to stdout-only logging and returns the error for
// the caller to log loudly.
func InitWithFile(levelStr, logPath string) error {
	SetLevel(levelStr)

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		Log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
		return err
	}

	logFile = f
	Log = slog.New(fanoutHandler{
		text: slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &level}),
		json: slog.NewJSONHandler(f, &slog.HandlerOptions{Level: &level}),
	})
	return nil
}

// Close flushes and closes the log file, if one is open.
func Close() error {
	if logFile != nil {
		return logFile.Close()
	}
	return nil
}

// fanoutHandler duplicates every record to a text handler (stdout, for
// operators watching the console) and a JSON handler (the log file, for
// machine consumption).
type fanoutHandler struct {
	text slog.Handler
	json slog.Handler
}

func (h fanoutHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.text.Enabled(ctx, l) || h.json.Enabled(ctx, l)
}

func (h fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.text.Handle(ctx, r.Clone()); err != nil {
		return err
	}
	return h.json.Handle(ctx, r.Clone())
}

func (h fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return fanoutHandler{text: h.text.WithAttrs(attrs), json: h.json.WithAttrs(attrs)}
}

func (h fanoutHandler) WithGroup(name string) slog.Handler {
	return fanoutHandler{text: h.text.WithGroup(name), json: h.json.WithGroup(name)}
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

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	if Log != nil {
		Log.Debug(msg, args...)
	}
}

// Info logs an info message.
func Info(msg string, args ...any) {
	if Log != nil {
		Log.Info(msg, args...)
	}
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	if Log != nil {
		Log.Warn(msg, args...)
	}
}

// Error logs an error message.
func Error(msg string, args ...any) {
	if Log != nil {
		Log.Error(msg, args...)
	}
}
