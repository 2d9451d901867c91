package observability

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	globalLogger zerolog.Logger
	initOnce     sync.Once
)

// InitLogger initializes the global structured logger
func InitLogger(level string, pretty bool) {
	initOnce.Do(func() {
		globalLogger = NewLogger(os.Stdout, level, pretty)

		// Set as global logger
		log.Logger = globalLogger
	})
}

// NewLogger builds a logger writing to w without touching global state
func NewLogger(w io.Writer, level string, pretty bool) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(level))

	if pretty {
		// Pretty console output for development
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// ParseLevel maps a config string to a zerolog level, defaulting to info
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// GetLogger returns the global logger
func GetLogger() zerolog.Logger {
	// Initialize with defaults if not already initialized
	InitLogger("info", false)
	return globalLogger
}

// Component tags logger with a component name
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

// WithCorrelationID tags logger with a correlation ID, generating one when empty
func WithCorrelationID(logger zerolog.Logger, correlationID string) zerolog.Logger {
	if correlationID == "" {
		correlationID = NewCorrelationID()
	}
	return logger.With().Str("correlation_id", correlationID).Logger()
}

// NewCorrelationID generates a new correlation ID
func NewCorrelationID() string {
	return uuid.New().String()
}
