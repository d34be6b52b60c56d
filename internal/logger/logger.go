// Package logger provides structured, level-gated logging shared by every
// component of the telemetry pipeline.
//
// Each entry carries a module tag and an action tag, e.g.:
//
//	log := logger.New("QUEUE", cfg.LogLevel)
//	log.Info("flush", "flushed 12 events")
//	log.Errorf("flush", "sink rejected batch: %v", err)
//
// Output is a single-line zerolog record (console-formatted from New, JSON
// from NewJSON; the SDK uses New in debug mode and NewJSON otherwise),
// replacing the fixed-width stdlib formatting a plain
// log.Logger would produce. Levels (lowest to highest): debug, info, warn,
// error. Entries below the configured minimum level are dropped.
package logger

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Level represents a log severity.
type Level int

// Log severity constants, ordered lowest to highest.
const (
	LevelDebug Level = iota // fine-grained diagnostic output
	LevelInfo               // normal operational messages
	LevelWarn               // unexpected but recoverable conditions
	LevelError              // failures requiring attention
)

func init() {
	zerolog.TimeFieldFormat = "2006-01-02T15:04:05.000Z07:00"
}

// Logger writes structured log lines for a single module.
type Logger struct {
	module string
	level  Level
	z      zerolog.Logger
}

// New creates a Logger for the given module, gated at the given level
// string. Unrecognized level strings default to "info". Entries are
// written to stderr using a human-readable console format.
func New(module, levelStr string) *Logger {
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	return newLogger(module, levelStr, zerolog.New(w))
}

// NewJSON creates a Logger that writes single-line JSON records to stderr,
// for production deployments where logs are shipped to a collector.
func NewJSON(module, levelStr string) *Logger {
	return newLogger(module, levelStr, zerolog.New(os.Stderr))
}

func newLogger(module, levelStr string, base zerolog.Logger) *Logger {
	return &Logger{
		module: strings.ToUpper(module),
		level:  parseLevel(levelStr),
		z:      base.With().Timestamp().Str("module", strings.ToUpper(module)).Logger(),
	}
}

// SetLevel changes the minimum log level at runtime.
func (l *Logger) SetLevel(levelStr string) {
	l.level = parseLevel(levelStr)
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(action, msg string) { l.write(LevelDebug, action, msg) }

// Info logs at INFO level.
func (l *Logger) Info(action, msg string) { l.write(LevelInfo, action, msg) }

// Warn logs at WARN level.
func (l *Logger) Warn(action, msg string) { l.write(LevelWarn, action, msg) }

// Error logs at ERROR level.
func (l *Logger) Error(action, msg string) { l.write(LevelError, action, msg) }

// Debugf logs a formatted message at DEBUG level.
func (l *Logger) Debugf(action, format string, args ...any) {
	l.write(LevelDebug, action, fmt.Sprintf(format, args...))
}

// Infof logs a formatted message at INFO level.
func (l *Logger) Infof(action, format string, args ...any) {
	l.write(LevelInfo, action, fmt.Sprintf(format, args...))
}

// Warnf logs a formatted message at WARN level.
func (l *Logger) Warnf(action, format string, args ...any) {
	l.write(LevelWarn, action, fmt.Sprintf(format, args...))
}

// Errorf logs a formatted message at ERROR level.
func (l *Logger) Errorf(action, format string, args ...any) {
	l.write(LevelError, action, fmt.Sprintf(format, args...))
}

// Fatal logs at ERROR level and then calls os.Exit(1).
func (l *Logger) Fatal(action, msg string) {
	l.Error(action, msg)
	os.Exit(1)
}

// Fatalf logs a formatted message at ERROR level and then calls os.Exit(1).
func (l *Logger) Fatalf(action, format string, args ...any) {
	l.Fatal(action, fmt.Sprintf(format, args...))
}

// write emits one log record if level >= l.level.
func (l *Logger) write(level Level, action, msg string) {
	if level < l.level {
		return
	}
	var evt *zerolog.Event
	switch level {
	case LevelDebug:
		evt = l.z.Debug()
	case LevelWarn:
		evt = l.z.Warn()
	case LevelError:
		evt = l.z.Error()
	default:
		evt = l.z.Info()
	}
	evt.Str("action", action).Msg(msg)
}

// parseLevel converts a string to a Level, defaulting to LevelInfo.
func parseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}
