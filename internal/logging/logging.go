// Package logging provides the structured, leveled logger used across the
// triage pipeline. Records are single-line JSON objects written by zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"

	"github.com/rs/zerolog"
)

// Level is a log severity. DEBUG < INFO < WARN < ERROR.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel maps a level name to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger writes structured records with a static context.
// Loggers are values passed by reference; there is no global instance.
type Logger struct {
	zl zerolog.Logger
}

// New creates a Logger writing JSON records to w, dropping anything below level.
func New(w io.Writer, service string, level Level) *Logger {
	zl := zerolog.New(w).
		Level(level.zerolog()).
		With().
		Timestamp().
		Str("service", service).
		Logger()
	return &Logger{zl: zl}
}

// FromEnv creates a Logger whose threshold is read once from LOG_LEVEL.
func FromEnv(w io.Writer, service string) *Logger {
	return New(w, service, ParseLevel(os.Getenv("LOG_LEVEL")))
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// Child returns a logger that adds kv to every record. The receiver is not modified.
func (l *Logger) Child(kv ...any) *Logger {
	fields := buildFieldMap(kv)
	if len(fields) == 0 {
		return &Logger{zl: l.zl}
	}
	return &Logger{zl: l.zl.With().Fields(fields).Logger()}
}

// Log emits one record at the given level.
func (l *Logger) Log(level Level, msg string, kv ...any) {
	ev := l.zl.WithLevel(level.zerolog())
	if ev == nil {
		return
	}
	fields := buildFieldMap(kv)
	if level == LevelError {
		if err, ok := fields["error"].(error); ok && err != nil {
			delete(fields, "error")
			ev = ev.Str("error", err.Error()).
				Str("error_type", fmt.Sprintf("%T", err)).
				Str("stack", string(debug.Stack()))
		}
	}
	if len(fields) > 0 {
		ev = ev.Fields(fields)
	}
	ev.Msg(msg)
}

func (l *Logger) Debug(msg string, kv ...any) { l.Log(LevelDebug, msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.Log(LevelInfo, msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.Log(LevelWarn, msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.Log(LevelError, msg, kv...) }

// buildFieldMap converts variadic key-value pairs to a map.
func buildFieldMap(kv []any) map[string]any {
	if len(kv) == 0 {
		return nil
	}
	m := make(map[string]any, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kv[i])
		}
		m[key] = kv[i+1]
	}
	// Odd number of fields: keep the dangling value.
	if len(kv)%2 != 0 {
		m["_extra"] = kv[len(kv)-1]
	}
	return m
}
