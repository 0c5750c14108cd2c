package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var (
	mu     sync.RWMutex
	logger = newLogger(os.Stdout)
)

func newLogger(w io.Writer) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: "2006/01/02 15:04:05", NoColor: true}
	return zerolog.New(out).With().Timestamp().Logger()
}

func InitLogger(logLevel *string) {
	level := "info"
	if logLevel != nil {
		level = *logLevel
	}
	switch level {
	case "debug":
		SetLogLevel(DEBUG)
	case "info":
		SetLogLevel(INFO)
	case "warn":
		SetLogLevel(WARN)
	case "error":
		SetLogLevel(ERROR)
	default:
		SetLogLevel(INFO)
	}

	Info("Application started")
	Debug("Debug logging enabled")
}

// SetLogLevel sets the global log level
func SetLogLevel(level LogLevel) {
	switch level {
	case DEBUG:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case WARN:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case ERROR:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// SetOutput redirects all log output, mainly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = newLogger(w)
}

// Component returns a structured logger tagged with the component name.
func Component(name string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger.With().Str("component", name).Logger()
}

func current() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := logger
	return &l
}

// Debug logs debug-level messages
func Debug(v ...interface{}) {
	current().Debug().Msg(fmt.Sprint(v...))
}

// Debugf logs debug-level formatted messages
func Debugf(format string, v ...interface{}) {
	current().Debug().Msgf(format, v...)
}

// Info logs info-level messages
func Info(v ...interface{}) {
	current().Info().Msg(fmt.Sprint(v...))
}

// Infof logs info-level formatted messages
func Infof(format string, v ...interface{}) {
	current().Info().Msgf(format, v...)
}

// Warn logs warning-level messages
func Warn(v ...interface{}) {
	current().Warn().Msg(fmt.Sprint(v...))
}

// Warnf logs warning-level formatted messages
func Warnf(format string, v ...interface{}) {
	current().Warn().Msgf(format, v...)
}

// Error logs error-level messages
func Error(v ...interface{}) {
	current().Error().Msg(fmt.Sprint(v...))
}

// Errorf logs error-level formatted messages
func Errorf(format string, v ...interface{}) {
	current().Error().Msgf(format, v...)
}
