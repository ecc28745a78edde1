// Package logger wraps zerolog with a process-wide logger for chorus.
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
	File   string `json:"file" mapstructure:"file" yaml:"file"`       // empty means stderr only
}

var (
	root    zerolog.Logger
	file    *os.File
	mu      sync.RWMutex
	started bool
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
	case "fatal":
		return zerolog.FatalLevel
	case "off", "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Init configures the global logger. Calling it again replaces the previous
// configuration and closes a previously opened log file.
func Init(cfg LogConfig) error {
	mu.Lock()
	defer mu.Unlock()

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	var out io.Writer = os.Stderr
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02T15:04:05-07:00"}
	}

	if file != nil {
		_ = file.Close()
		file = nil
	}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return fmt.Errorf("open log file %s: %w", cfg.File, err)
		}
		file = f
		out = io.MultiWriter(out, f)
	}

	root = zerolog.New(out).With().Timestamp().Caller().Logger()
	started = true
	return nil
}

// SetOutput points the global logger at w using JSON lines. Tests use it to
// capture log output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	root = zerolog.New(w).With().Timestamp().Logger()
	started = true
}

// Get returns the global logger.
func Get() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if !started {
		l := zerolog.New(os.Stderr).With().Timestamp().Logger()
		return &l
	}
	l := root
	return &l
}

// Component returns a child logger tagged with a component name.
func Component(name string) *zerolog.Logger {
	l := Get().With().Str("component", name).Logger()
	return &l
}

// With returns a child logger carrying the given fields.
func With(fields map[string]any) *zerolog.Logger {
	ctx := Get().With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	l := ctx.Logger()
	return &l
}

// Close releases the log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

func Debug() *zerolog.Event { return Get().Debug() }
func Info() *zerolog.Event  { return Get().Info() }
func Warn() *zerolog.Event  { return Get().Warn() }
func Error() *zerolog.Event { return Get().Error() }
func Fatal() *zerolog.Event { return Get().Fatal() }

// Debugf logs a formatted debug message.
func Debugf(format string, args ...any) { Get().Debug().Msgf(format, args...) }

// Infof logs a formatted info message.
func Infof(format string, args ...any) { Get().Info().Msgf(format, args...) }

// Warnf logs a formatted warn message.
func Warnf(format string, args ...any) { Get().Warn().Msgf(format, args...) }

// Errorf logs a formatted error message.
func Errorf(format string, args ...any) { Get().Error().Msgf(format, args...) }
