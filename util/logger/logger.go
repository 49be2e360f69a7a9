package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the logging level
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	case FATAL:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel converts "debug", "info", "warn" or "error" into a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "", "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown log level %q", s)
	}
}

// output is shared by all loggers created after Configure.
var output = struct {
	sync.RWMutex
	encoder zapcore.Encoder
	sink    zapcore.WriteSyncer
	level   LogLevel
}{
	encoder: newEncoder("console"),
	sink:    zapcore.Lock(os.Stdout),
	level:   INFO,
}

func newEncoder(format string) zapcore.Encoder {
	if format == "json" {
		cfg := zap.NewProductionEncoderConfig()
		cfg.TimeKey = "timestamp"
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	return zapcore.NewConsoleEncoder(cfg)
}

// Configure sets the level and encoding ("json" or "console") used by loggers
// created afterwards. Loggers that already exist keep their settings.
func Configure(level string, format string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	if format != "" && format != "json" && format != "console" {
		return fmt.Errorf("unknown log format %q", format)
	}

	output.Lock()
	defer output.Unlock()
	output.level = lvl
	output.encoder = newEncoder(format)
	return nil
}

// Logger is a named logger with its own adjustable level.
type Logger struct {
	level  zap.AtomicLevel
	prefix string
	sugar  *zap.SugaredLogger
}

// NewLogger creates a new Logger named after prefix.
func NewLogger(prefix string) *Logger {
	output.RLock()
	enc, sink, lvl := output.encoder, output.sink, output.level
	output.RUnlock()
	return newLogger(prefix, enc.Clone(), sink, lvl)
}

func newLogger(prefix string, enc zapcore.Encoder, sink zapcore.WriteSyncer, lvl LogLevel) *Logger {
	atom := zap.NewAtomicLevelAt(lvl.zapLevel())
	base := zap.New(zapcore.NewCore(enc, sink, atom))
	if prefix != "" {
		base = base.Named(prefix)
	}
	return &Logger{
		level:  atom,
		prefix: prefix,
		sugar:  base.Sugar(),
	}
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level LogLevel) {
	l.level.SetLevel(level.zapLevel())
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() LogLevel {
	switch l.level.Level() {
	case zapcore.DebugLevel:
		return DEBUG
	case zapcore.WarnLevel:
		return WARN
	case zapcore.ErrorLevel:
		return ERROR
	case zapcore.FatalLevel:
		return FATAL
	default:
		return INFO
	}
}

// GetPrefix returns the logger name.
func (l *Logger) GetPrefix() string {
	return l.prefix
}

// With returns a child logger that adds the given key/value pairs to every entry.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{
		level:  l.level,
		prefix: l.prefix,
		sugar:  l.sugar.With(keysAndValues...),
	}
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

// Debugf logs a debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Infof logs an info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warnf logs a warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Errorf logs an error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// Fatalf logs a fatal message and exits the program
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.sugar.Fatalf(format, args...)
}
