package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu sync.RWMutex

	// Default logger
	defaultLogger *zap.Logger
	sugar         *zap.SugaredLogger

	level = zap.NewAtomicLevelAt(zap.InfoLevel)
	out   = zapcore.AddSync(os.Stdout)

	// Verbose mode
	verbose bool

	// Silent mode
	silent bool
)

func init() {
	build()
}

func encoderConfig() zapcore.EncoderConfig {
	config := zap.NewDevelopmentEncoderConfig()
	config.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncodeLevel = zapcore.CapitalLevelEncoder
	return config
}

func build() {
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), out, level)
	defaultLogger = zap.New(core)
	sugar = defaultLogger.Sugar()
}

// Init initializes the logger. Silent keeps errors only; verbose enables debug.
func Init(verboseMode bool, silentMode bool) {
	mu.Lock()
	defer mu.Unlock()

	verbose = verboseMode
	silent = silentMode

	switch {
	case silent:
		level.SetLevel(zap.ErrorLevel)
	case verbose:
		level.SetLevel(zap.DebugLevel)
	default:
		level.SetLevel(zap.InfoLevel)
	}
	build()
}

// SetOutput redirects all log output to w
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	out = zapcore.AddSync(w)
	build()
}

// Zap returns the underlying logger for structured fields
func Zap() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// Info logs an informational message
func Info(format string, v ...interface{}) {
	get().Infof(format, v...)
}

// Debug is only emitted with --verbose
func Debug(format string, v ...interface{}) {
	get().Debugf(format, v...)
}

// Warn logs a warning message
func Warn(format string, v ...interface{}) {
	get().Warnf(format, v...)
}

// Error logs an error message
func Error(format string, v ...interface{}) {
	get().Errorf(format, v...)
}

// Fatal logs and exits with status 1
func Fatal(format string, v ...interface{}) {
	get().Fatalf(format, v...)
}

// Sync flushes buffered log entries
func Sync() error {
	return Zap().Sync()
}

// IsVerbose returns true if verbose mode is enabled
func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// IsSilent returns true if silent mode is enabled
func IsSilent() bool {
	mu.RLock()
	defer mu.RUnlock()
	return silent
}

// PrintProgress redraws a single progress line on the console
func PrintProgress(current, total int, message string) {
	if IsSilent() {
		return
	}
	if total > 0 {
		percentage := float64(current) / float64(total) * 100
		fmt.Fprintf(os.Stderr, "\r%s: %.1f%% (%d/%d)", message, percentage, current, total)
	} else {
		fmt.Fprintf(os.Stderr, "\r%s: %d", message, current)
	}
}
