package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Format represents the output format for logs
type Format int

const (
	// FormatConsole is human-readable console output
	FormatConsole Format = iota
	// FormatJSON is structured JSON output
	FormatJSON
)

// String returns the name used for the format in configuration
func (f Format) String() string {
	if f == FormatJSON {
		return "json"
	}
	return "console"
}

// ParseFormat converts a string to a Format, defaulting to console
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), "json") {
		return FormatJSON
	}
	return FormatConsole
}

// Level represents a logging level. Values line up with zapcore levels so a
// Level can be handed to zap directly.
type Level int8

const (
	// TraceLevel is for per-frame messages
	TraceLevel Level = Level(zapcore.DebugLevel) - 1
	// DebugLevel is for debug messages
	DebugLevel Level = Level(zapcore.DebugLevel)
	// InfoLevel is for informational messages
	InfoLevel Level = Level(zapcore.InfoLevel)
	// WarnLevel is for warning messages
	WarnLevel Level = Level(zapcore.WarnLevel)
	// ErrorLevel is for error messages
	ErrorLevel Level = Level(zapcore.ErrorLevel)
	// OffLevel disables logging entirely
	OffLevel Level = Level(zapcore.FatalLevel) + 1
)

// String returns the string representation of a Level
func (l Level) String() string {
	switch l {
	case TraceLevel:
		return "TRACE"
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case OffLevel:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string to a Level
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "off", "none":
		return OffLevel
	case "trace":
		return TraceLevel
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// FromVerbosity maps the number of -v occurrences to a Level.
// 0 is off, 1 error, 2 warn, 3 info, 4 debug, 5 or more trace.
func FromVerbosity(count int) Level {
	switch {
	case count <= 0:
		return OffLevel
	case count == 1:
		return ErrorLevel
	case count == 2:
		return WarnLevel
	case count == 3:
		return InfoLevel
	case count == 4:
		return DebugLevel
	default:
		return TraceLevel
	}
}

// FileOptions enables a rotated log file next to the primary output
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Options describes how a Logger is built
type Options struct {
	Level  Level
	Format Format
	// Output defaults to os.Stdout
	Output io.Writer
	// File is optional; a zero Path disables it
	File FileOptions
}

// Logger provides structured logging capabilities
type Logger struct {
	zl    *zap.Logger
	level zap.AtomicLevel
}

// New creates a new Logger with the specified level and console format
func New(level Level) *Logger {
	return NewWithOptions(Options{Level: level, Format: FormatConsole, Output: os.Stdout})
}

// NewWithFormat creates a new Logger with the specified level and format
func NewWithFormat(level Level, format Format) *Logger {
	return NewWithOptions(Options{Level: level, Format: format, Output: os.Stdout})
}

// NewWithOutput creates a new Logger with the specified level and output writer
func NewWithOutput(level Level, output io.Writer) *Logger {
	return NewWithOptions(Options{Level: level, Format: FormatConsole, Output: output})
}

// NewWithOptions creates a new Logger from the full option set
func NewWithOptions(opts Options) *Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	level := zap.NewAtomicLevelAt(zapcore.Level(opts.Level))
	encoder := newEncoder(opts.Format)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(opts.Output)), level),
	}
	if opts.File.Path != "" {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File.Path,
			MaxSize:    max(opts.File.MaxSizeMB, 1),
			MaxBackups: opts.File.MaxBackups,
			MaxAge:     opts.File.MaxAgeDays,
			Compress:   opts.File.Compress,
		}), level))
	}

	return &Logger{
		zl:    zap.New(zapcore.NewTee(cores...)),
		level: level,
	}
}

// Nop returns a Logger that discards everything
func Nop() *Logger {
	return &Logger{zl: zap.NewNop(), level: zap.NewAtomicLevelAt(zapcore.Level(OffLevel))}
}

func newEncoder(format Format) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.MessageKey = "message"
	cfg.CallerKey = zapcore.OmitKey
	cfg.StacktraceKey = zapcore.OmitKey
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	cfg.EncodeLevel = func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(Level(l).String())
	}
	if format == FormatJSON {
		return zapcore.NewJSONEncoder(cfg)
	}
	return zapcore.NewConsoleEncoder(cfg)
}

// SetLevel changes the logging level
func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(zapcore.Level(level))
}

// Level returns the current logging level
func (l *Logger) Level() Level {
	return Level(l.level.Level())
}

// Enabled reports whether messages at level would be written
func (l *Logger) Enabled(level Level) bool {
	return l.level.Enabled(zapcore.Level(level))
}

// With returns a child logger that adds fields to every entry
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{zl: l.zl.With(fields...), level: l.level}
}

// Trace logs a trace message with optional fields
func (l *Logger) Trace(msg string, fields ...Field) {
	l.zl.Log(zapcore.Level(TraceLevel), msg, fields...)
}

// Debug logs a debug message with optional fields
func (l *Logger) Debug(msg string, fields ...Field) {
	l.zl.Debug(msg, fields...)
}

// Info logs an informational message with optional fields
func (l *Logger) Info(msg string, fields ...Field) {
	l.zl.Info(msg, fields...)
}

// Warn logs a warning message with optional fields
func (l *Logger) Warn(msg string, fields ...Field) {
	l.zl.Warn(msg, fields...)
}

// Error logs an error message with optional fields
func (l *Logger) Error(msg string, fields ...Field) {
	l.zl.Error(msg, fields...)
}

// Sync flushes buffered entries
func (l *Logger) Sync() error {
	return l.zl.Sync()
}

// Field represents a structured logging field
type Field = zap.Field

// String creates a Field with a string value
func String(key, value string) Field {
	return zap.String(key, value)
}

// Int creates a Field with an integer value
func Int(key string, value int) Field {
	return zap.Int(key, value)
}

// Uint64 creates a Field with an unsigned counter value
func Uint64(key string, value uint64) Field {
	return zap.Uint64(key, value)
}

// Bool creates a Field with a boolean value
func Bool(key string, value bool) Field {
	return zap.Bool(key, value)
}

// Duration creates a Field with a duration value
func Duration(key string, value time.Duration) Field {
	return zap.Duration(key, value)
}

// Stringer creates a Field from a fmt.Stringer, evaluated lazily
func Stringer(key string, value interface{ String() string }) Field {
	return zap.Stringer(key, value)
}

// Error creates a Field with an error value
func Error(err error) Field {
	return zap.Error(err)
}

// Any creates a Field with any value
func Any(key string, value any) Field {
	return zap.Any(key, value)
}
