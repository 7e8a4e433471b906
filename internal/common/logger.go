package common

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogLevel represents logging verbosity levels
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "error"
	case LogLevelWarn:
		return "warn"
	case LogLevelDebug:
		return "debug"
	default:
		return "info"
	}
}

// ToSlogLevel converts LogLevel to slog.Level
func (l LogLevel) ToSlogLevel() slog.Level {
	switch l {
	case LogLevelError:
		return slog.LevelError
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// ParseLogLevel maps a config string to a LogLevel, defaulting to info.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return LogLevelError
	case "warn", "warning":
		return LogLevelWarn
	case "debug":
		return LogLevelDebug
	default:
		return LogLevelInfo
	}
}

// Logger provides a centralized logging interface for opshooks
type Logger struct {
	*slog.Logger
	level LogLevel
}

// NewLogger creates a new structured logger with the specified level
func NewLogger(level LogLevel) *Logger {
	return newLogger(slog.NewTextHandler(os.Stdout, maskingOptions(level)), level)
}

// NewJSONLogger creates a structured logger with JSON output
func NewJSONLogger(level LogLevel) *Logger {
	return newLogger(slog.NewJSONHandler(os.Stdout, maskingOptions(level)), level)
}

// maskingOptions runs every string attribute, including the message, through the global masker.
func maskingOptions(level LogLevel) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: level.ToSlogLevel(),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if globalMasker.IsSensitiveKey(a.Key) {
				return slog.String(a.Key, Masked)
			}
			if a.Value.Kind() == slog.KindString {
				return slog.String(a.Key, globalMasker.MaskString(a.Value.String()))
			}
			return a
		},
	}
}

// NewColorLogger creates a logger writing colorized, masked text to w.
func NewColorLogger(w io.Writer, level LogLevel) *Logger {
	return newLogger(NewColorHandler(w, &slog.HandlerOptions{Level: level.ToSlogLevel()}), level)
}

// NewLoggerFromFormat picks the handler by name: "json", "color" or "text".
func NewLoggerFromFormat(format string, level LogLevel) *Logger {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return NewJSONLogger(level)
	case "color":
		return NewColorLogger(os.Stdout, level)
	default:
		return NewLogger(level)
	}
}

func newLogger(h slog.Handler, level LogLevel) *Logger {
	return &Logger{Logger: slog.New(h), level: level}
}

// Level returns the current log level
func (l *Logger) Level() LogLevel {
	return l.level
}

func (l *Logger) with(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level}
}

// WithComponent returns a logger with component context
func (l *Logger) WithComponent(component string) *Logger {
	return l.with("component", component)
}

// WithTask returns a logger with task id context
func (l *Logger) WithTask(taskID string) *Logger {
	return l.with("task", taskID)
}

// WithConn returns a logger with connection id and host context
func (l *Logger) WithConn(connID, host string) *Logger {
	return l.with("conn_id", connID, "host", host)
}

// WithStore returns a logger with store context
func (l *Logger) WithStore(storeType string) *Logger {
	return l.with("store", storeType)
}

// WithRequest returns a logger with HTTP request context
func (l *Logger) WithRequest(method, url string) *Logger {
	return l.with("method", method, "url", MaskSensitiveData(url))
}

var defaultLogger = NewLogger(LogLevelInfo)

// SetDefaultLogger sets the global default logger
func SetDefaultLogger(logger *Logger) {
	defaultLogger = logger
}

// GetLogger returns the default logger
func GetLogger() *Logger {
	return defaultLogger
}

// LogError logs an error with context
func LogError(msg string, err error, attrs ...any) {
	args := append([]any{"error", err}, attrs...)
	defaultLogger.Error(msg, args...)
}

// LogInfo logs informational message
func LogInfo(msg string, attrs ...any) {
	defaultLogger.Info(msg, attrs...)
}

// LogDebug logs debug message
func LogDebug(msg string, attrs ...any) {
	defaultLogger.Debug(msg, attrs...)
}

// LogWarn logs warning message
func LogWarn(msg string, attrs ...any) {
	defaultLogger.Warn(msg, attrs...)
}
