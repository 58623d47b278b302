package nandc

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Component tags log records with the subsystem that produced them.
type Component string

const (
	ComponentController Component = "controller"
	ComponentDMA        Component = "dma"
	ComponentECC        Component = "ecc"
	ComponentConfig     Component = "config"
	ComponentSim        Component = "sim"
	ComponentBridge     Component = "bridge"
)

var (
	logLevel = new(slog.LevelVar)

	logMu  sync.RWMutex
	logger *slog.Logger
)

func init() {
	logLevel.Set(slog.LevelWarn)
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

// SetLogLevel sets the minimum level of the default logger.
func SetLogLevel(level slog.Level) { logLevel.Set(level) }

// SetLogger replaces the package logger.
func SetLogger(l *slog.Logger) {
	logMu.Lock()
	defer logMu.Unlock()
	logger = l
}

// NewLogger returns a text logger on w that honours SetLogLevel.
func NewLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

// Logger returns the current package logger.
func Logger() *slog.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return logger
}

func logAt(level slog.Level, c Component, msg string, args ...any) {
	Logger().Log(context.Background(), level, msg, append([]any{"component", string(c)}, args...)...)
}

func logDebug(c Component, msg string, args ...any) { logAt(slog.LevelDebug, c, msg, args...) }
func logInfo(c Component, msg string, args ...any)  { logAt(slog.LevelInfo, c, msg, args...) }
func logWarn(c Component, msg string, args ...any)  { logAt(slog.LevelWarn, c, msg, args...) }
func logError(c Component, msg string, args ...any) { logAt(slog.LevelError, c, msg, args...) }

// LogDebug, LogInfo and LogWarn let backends outside this package log with the same
// component tagging.
func LogDebug(c Component, msg string, args ...any) { logDebug(c, msg, args...) }
func LogInfo(c Component, msg string, args ...any)  { logInfo(c, msg, args...) }
func LogWarn(c Component, msg string, args ...any)  { logWarn(c, msg, args...) }
