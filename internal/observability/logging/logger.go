// Package logging provides structured logging with zerolog.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"voice-risk-service/internal/models"
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	TimeFormat string // RFC3339, Unix, etc.
	Service    string // added as "service" on every entry when set
}

// DefaultConfig returns sensible default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		TimeFormat: time.RFC3339,
	}
}

// Init initializes the global zerolog logger.
func Init(cfg Config) {
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))
	log.Logger = New(os.Stdout, cfg)
}

// ParseLevel maps a level name to a zerolog level. Unknown names are info.
func ParseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// New builds a logger writing to w in the configured format and level. It
// leaves global state alone, so tools and tests can log to their own sink.
func New(w io.Writer, cfg Config) zerolog.Logger {
	output := w
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.Kitchen,
		}
	}

	ctx := zerolog.New(output).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Caller()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	return ctx.Logger()
}

// Logger returns the global service logger.
func Logger() zerolog.Logger {
	return log.Logger
}

// WithSession returns a logger with call session context.
func WithSession(sessionId, tenantId string) zerolog.Logger {
	return log.With().
		Str("sessionId", sessionId).
		Str("tenantId", tenantId).
		Logger()
}

// WithStream returns a logger with call stream context.
func WithStream(sessionId, tenantId, locale, provider string) zerolog.Logger {
	return WithSession(sessionId, tenantId).With().
		Str("locale", locale).
		Str("sttProvider", provider).
		Logger()
}

// WithComponent returns a logger with a component tag.
func WithComponent(component string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Logger()
}

// Risk renders a risk state as a nested object, for use with Event.Dict.
func Risk(state models.RiskState) *zerolog.Event {
	d := zerolog.Dict().
		Int("score", state.Score).
		Str("label", string(state.Label))
	if state.Rationale != "" {
		d = d.Str("rationale", state.Rationale)
	}
	return d
}
