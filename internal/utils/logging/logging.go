package logging

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var current atomic.Pointer[Logger]

func init() {
	Init(&LogOptions{
		Level:  "warn",
		Format: "text",
	})
}

// LogOptions configures the behavior of the logging system.
type LogOptions struct {
	Level  string    // Log level ("debug", "info", "warn", "error", "disabled"), default "warn"
	Format string    // Output format ("json" or "text"), default "text"
	Output io.Writer // Destination, default os.Stderr
}

// Init replaces the package logger. It is safe to call while streams are
// logging.
func Init(opts *LogOptions) {
	current.Store(NewLogger(opts))
}

// Get returns the package logger.
func Get() *Logger {
	return current.Load()
}

func Info(msg string, keyValues ...interface{}) {
	Get().LogInfo(msg, keyValues...)
}

func Debug(msg string, keyValues ...interface{}) {
	Get().LogDebug(msg, keyValues...)
}

func Warn(msg string, keyValues ...interface{}) {
	Get().LogWarn(msg, keyValues...)
}

func Error(err error, msg string, keyValues ...interface{}) {
	Get().LogError(err, msg, keyValues...)
}

// Logger is a wrapper around zerolog.Logger taking variadic key/value pairs.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger builds a Logger from opts. An unknown level falls back to warn.
func NewLogger(opts *LogOptions) *Logger {
	if opts == nil {
		opts = &LogOptions{}
	}

	level := zerolog.WarnLevel
	if opts.Level != "" {
		if l, err := zerolog.ParseLevel(opts.Level); err == nil {
			level = l
		}
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if opts.Format != "json" {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "2006-01-02 15:04:05",
		}
	}

	return &Logger{
		logger: zerolog.New(out).Level(level).With().Timestamp().Logger(),
	}
}

// LogDebug records a debugging message. Fields are not built when debug
// is disabled.
func (l *Logger) LogDebug(msg string, keyValues ...interface{}) {
	if e := l.logger.Debug(); e.Enabled() {
		e.Fields(keyValues).Msg(msg)
	}
}

// LogInfo records informational messages about normal flow.
func (l *Logger) LogInfo(msg string, keyValues ...interface{}) {
	l.logger.Info().Fields(keyValues).Msg(msg)
}

// LogWarn records messages about potential issues.
func (l *Logger) LogWarn(msg string, keyValues ...interface{}) {
	l.logger.Warn().Fields(keyValues).Msg(msg)
}

// LogError records a failure together with its error.
func (l *Logger) LogError(err error, msg string, keyValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keyValues).Msg(msg)
}
