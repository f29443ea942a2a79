package logging

import (
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	disabled atomic.Bool
	current  atomic.Pointer[zap.SugaredLogger] // for package-level calls
	named    atomic.Pointer[zap.SugaredLogger] // for Logger methods, one frame deeper
)

func init() {
	l, err := build(Options{})
	if err != nil {
		l = zap.NewNop()
	}
	install(l)
}

// install stores l with caller skips so reported callers are the code that
// logged, not this package.
func install(l *zap.Logger) {
	current.Store(l.WithOptions(zap.AddCallerSkip(1)).Sugar())
	named.Store(l.WithOptions(zap.AddCallerSkip(2)).Sugar())
}

// Options controls how Init builds the process logger.
type Options struct {
	Level  string // debug, info, warn, error (default info)
	Format string // console or json (default console)
}

// Init replaces the process logger. Safe to call more than once.
func Init(opts Options) error {
	l, err := build(opts)
	if err != nil {
		return err
	}
	SetLogger(l)
	return nil
}

// SetLogger installs an already-built zap logger (tests use an observer core).
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	install(l)
}

// Sync flushes buffered log entries.
func Sync() {
	_ = current.Load().Sync()
}

func build(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if s := strings.TrimSpace(opts.Level); s != "" {
		parsed, err := zapcore.ParseLevel(strings.ToLower(s))
		if err != nil {
			return nil, fmt.Errorf("logging: %w", err)
		}
		level = parsed
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Sampling = nil
	cfg.DisableStacktrace = true
	cfg.OutputPaths = []string{"stdout"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "console":
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	case "json":
		cfg.Encoding = "json"
	default:
		return nil, fmt.Errorf("logging: unknown format %q", opts.Format)
	}
	return cfg.Build(zap.AddCaller())
}

// Disable turns off all logging
func Disable() {
	disabled.Store(true)
}

// Enable turns logging back on
func Enable() {
	disabled.Store(false)
}

func sugar() *zap.SugaredLogger {
	return current.Load()
}

// Infof logs a formatted info message
func Infof(format string, v ...any) {
	if !disabled.Load() {
		sugar().Infof(format, v...)
	}
}

// Error logs an error message
func Error(v ...any) {
	if !disabled.Load() {
		sugar().Error(v...)
	}
}

// Errorf logs a formatted error message
func Errorf(format string, v ...any) {
	if !disabled.Load() {
		sugar().Errorf(format, v...)
	}
}

// Warnf logs a formatted warning message
func Warnf(format string, v ...any) {
	if !disabled.Load() {
		sugar().Warnf(format, v...)
	}
}

// Debugf logs a formatted debug message
func Debugf(format string, v ...any) {
	if !disabled.Load() {
		sugar().Debugf(format, v...)
	}
}

// Logger is a simple logger that can be embedded in structs. Component
// prefixes the message so log lines stay greppable ("[dispatch] ...").
type Logger struct {
	Component string
}

// Named returns a Logger that tags every line with component.
func Named(component string) Logger {
	return Logger{Component: component}
}

func (l Logger) prefix(format string) string {
	if l.Component == "" {
		return format
	}
	return "[" + l.Component + "] " + format
}

// Infof logs a formatted info message
func (l Logger) Infof(format string, v ...any) {
	if !disabled.Load() {
		named.Load().Infof(l.prefix(format), v...)
	}
}

// Warnf logs a formatted warning message
func (l Logger) Warnf(format string, v ...any) {
	if !disabled.Load() {
		named.Load().Warnf(l.prefix(format), v...)
	}
}

// Errorf logs a formatted error message
func (l Logger) Errorf(format string, v ...any) {
	if !disabled.Load() {
		named.Load().Errorf(l.prefix(format), v...)
	}
}

// Debugf logs a formatted debug message
func (l Logger) Debugf(format string, v ...any) {
	if !disabled.Load() {
		named.Load().Debugf(l.prefix(format), v...)
	}
}
