package logger

import (
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

var Logger *log.Logger

var (
	mu       sync.Mutex
	prefixed = make(map[string]*log.Logger)
)

func init() {
	Logger = log.New(os.Stderr)

	// Set log level from environment variable
	Logger.SetLevel(ParseLevel(os.Getenv("LOG_LEVEL")))
}

// ParseLevel maps a level name to a log level. Unknown names fall back
// to info.
func ParseLevel(name string) log.Level {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return log.DebugLevel
	case "INFO":
		return log.InfoLevel
	case "WARN", "WARNING":
		return log.WarnLevel
	case "ERROR":
		return log.ErrorLevel
	case "FATAL":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

// SetLevel changes the level of the root logger and of every component
// logger handed out by WithPrefix. An empty name leaves the level alone.
func SetLevel(name string) {
	if name == "" {
		return
	}
	level := ParseLevel(name)
	mu.Lock()
	defer mu.Unlock()
	Logger.SetLevel(level)
	for _, l := range prefixed {
		l.SetLevel(level)
	}
}

// WithPrefix returns the logger for a component. Loggers are cached per
// prefix so level changes reach them.
func WithPrefix(prefix string) *log.Logger {
	mu.Lock()
	defer mu.Unlock()
	if l, ok := prefixed[prefix]; ok {
		return l
	}
	l := Logger.WithPrefix(prefix)
	prefixed[prefix] = l
	return l
}

// Convenience functions for common operations
func Info(msg interface{}, keyvals ...interface{}) {
	Logger.Info(msg, keyvals...)
}

func Debug(msg interface{}, keyvals ...interface{}) {
	Logger.Debug(msg, keyvals...)
}

func Warn(msg interface{}, keyvals ...interface{}) {
	Logger.Warn(msg, keyvals...)
}

func Error(msg interface{}, keyvals ...interface{}) {
	Logger.Error(msg, keyvals...)
}

func Fatal(msg interface{}, keyvals ...interface{}) {
	Logger.Fatal(msg, keyvals...)
}

func Infof(format string, args ...interface{}) {
	Logger.Infof(format, args...)
}

func Debugf(format string, args ...interface{}) {
	Logger.Debugf(format, args...)
}

func Warnf(format string, args ...interface{}) {
	Logger.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	Logger.Errorf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	Logger.Fatalf(format, args...)
}
