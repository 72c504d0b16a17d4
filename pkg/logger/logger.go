// Package logger provides the process-wide zerolog logger used by every chatroute package.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level" yaml:"level"`    // debug, info, warn, error
	Format string `json:"format" mapstructure:"format" yaml:"format"` // console, json
	File   string `json:"file" mapstructure:"file" yaml:"file"`       // optional log file
}

var (
	globalLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	logFile      *os.File
	mu           sync.RWMutex
)

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Init configures the global logger. Console output goes to stderr; when File
// is set, JSON lines are additionally appended to it.
func Init(config LogConfig) error {
	mu.Lock()
	defer mu.Unlock()

	zerolog.SetGlobalLevel(parseLevel(config.Level))

	var out io.Writer = os.Stderr
	if strings.EqualFold(config.Format, "console") {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	}

	if config.File != "" {
		f, err := os.OpenFile(config.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return fmt.Errorf("open log file %s: %w", config.File, err)
		}
		if logFile != nil {
			_ = logFile.Close()
		}
		logFile = f
		out = zerolog.MultiLevelWriter(out, f)
	}

	globalLogger = zerolog.New(out).With().Timestamp().Logger()
	return nil
}

// SetOutput replaces the global writer. Tests use it to capture log lines.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	globalLogger = zerolog.New(w).With().Timestamp().Logger()
}

// Get returns the global logger.
func Get() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := globalLogger
	return &l
}

// Component returns a child logger tagged with the emitting component.
func Component(name string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return globalLogger.With().Str("component", name).Logger()
}

// Close closes the log file if one was opened.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	globalLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	return err
}

func Debug() *zerolog.Event { return Get().Debug() }
func Info() *zerolog.Event  { return Get().Info() }
func Warn() *zerolog.Event  { return Get().Warn() }
func Error() *zerolog.Event { return Get().Error() }
