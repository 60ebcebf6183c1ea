package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"voice-risk-service/internal/config"
	"voice-risk-service/internal/events"
	"voice-risk-service/internal/models"
	"voice-risk-service/internal/observability/logging"
	"voice-risk-service/internal/observability/metrics"
	"voice-risk-service/internal/service/alert"
	"voice-risk-service/internal/service/audio"
	"voice-risk-service/internal/service/session"
	"voice-risk-service/internal/service/stt"
	googlestt "voice-risk-service/internal/service/stt/google"
	"voice-risk-service/internal/service/stt/mock"
	"voice-risk-service/internal/service/textrisk"

	"github.com/rs/zerolog"
)

// TranscriberFactory builds the transcription adapter for one call. A nil
// adapter with a nil error means transcripts arrive in-band.
type TranscriberFactory func(ctx context.Context, provider stt.Provider, locale models.Locale, sampleRateHz int) (stt.Adapter, error)

// SessionRequest carries the caller-supplied parameters of a new call.
type SessionRequest struct {
	SessionID    string
	TenantID     string
	Locale       string
	SampleRateHz int
}

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config
	Metrics     *metrics.Metrics
	Tables      *textrisk.Tables
	Publisher   *events.Publisher
	Sessions    *session.Registry

	// NewTranscriber defaults to the provider configured in Cfg.STT.
	NewTranscriber TranscriberFactory

	provider stt.Provider
	ids      *session.Generator
	ready    atomic.Bool
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	provider, err := stt.ParseProvider(cfg.STT.Provider)
	if err != nil {
		return nil, err
	}

	a := &Application{
		Cfg:      cfg,
		Metrics:  metrics.DefaultMetrics,
		Sessions: session.NewRegistry(),
		provider: provider,
		ids:      session.NewGenerator(),
	}
	a.setupLogger()
	a.NewTranscriber = a.defaultTranscriber

	tables, err := textrisk.LoadTablesFile(cfg.Risk.PatternsFile)
	if err != nil {
		return nil, err
	}
	a.Tables = tables

	a.Publisher = events.New(&events.Config{
		Brokers:    cfg.Kafka.Brokers,
		TopicState: cfg.Kafka.TopicState,
		TopicAlert: cfg.Kafka.TopicAlert,
		Principal:  cfg.Kafka.Principal,
		Enabled:    cfg.Kafka.Enabled,
	})

	a.Logger.Info().
		Str("locale", cfg.Risk.Locale).
		Str("sttProvider", string(provider)).
		Bool("kafkaEnabled", cfg.Kafka.Enabled).
		Str("patternsFile", cfg.Risk.PatternsFile).
		Msg("Voice risk service application created")
	return a, nil
}

// setupLogger configures zerolog for the service.
func (a *Application) setupLogger() {
	logging.Init(logging.Config{
		Level:      a.Cfg.Observability.LogLevel,
		Format:     a.Cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
		Service:    "voice-risk-service",
	})

	a.Logger = logging.WithComponent("application")

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("environment", a.Cfg.Service.Env).
		Msg("Logger setup completed")
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	a.StartupTime = time.Now().UTC()
	a.ready.Store(true)
	a.Logger.Info().
		Str("method", "Start").
		Time("startupTime", a.StartupTime).
		Msg("Voice risk service starting")
	return nil
}

// Ready reports whether the service accepts new calls.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// Shutdown stops every live session and flushes the publisher.
func (a *Application) Shutdown() {
	a.ready.Store(false)
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Int("liveSessions", a.Sessions.Len()).
		Logger()

	shutdownLogger.Info().Msg("Voice risk service shutting down")
	a.Sessions.StopAll()
	if err := a.Publisher.Close(); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Error closing publisher")
	}
}

// SessionConfig maps the service configuration and a call request onto a
// session configuration.
func (a *Application) SessionConfig(req SessionRequest) session.Config {
	cfg := session.DefaultConfig()

	locale := req.Locale
	if locale == "" {
		locale = a.Cfg.Risk.Locale
	}
	cfg.ID = a.ids.Resolve(req.SessionID, req.TenantID)
	cfg.TenantID = req.TenantID
	cfg.Locale = models.ParseLocale(locale)
	cfg.Provider = a.provider

	cfg.Alert = alert.Config{
		Locale:        cfg.Locale,
		SpokenEnabled: a.Cfg.Risk.SpokenAlerts,
		Volume:        a.Cfg.Risk.AlertVolume,
		Rate:          a.Cfg.Risk.AlertRate,
		Cooldown:      a.Cfg.Risk.AlertCooldown,
	}

	sampleRate := req.SampleRateHz
	if sampleRate <= 0 {
		sampleRate = a.Cfg.STT.SampleRateHz
	}
	cfg.Analyser = audio.AnalyserConfig{
		FFTSize:               a.Cfg.Risk.FFTSize,
		SmoothingTimeConstant: a.Cfg.Risk.Smoothing,
		SampleRateHz:          sampleRate,
	}
	cfg.Limits = audio.StreamLimits{
		MaxAudioBytes: a.Cfg.Limits.MaxAudioBytes,
		MaxDuration:   a.Cfg.Limits.MaxDuration,
	}
	cfg.TickInterval = a.Cfg.Risk.TickInterval
	cfg.StrictFrames = a.Cfg.Risk.StrictFrames
	return cfg
}

// OpenSession creates, registers and starts a call session. When the error
// wraps session.ErrTranscriptionUnavailable the returned session is live and
// scoring on the voice signal alone.
func (a *Application) OpenSession(ctx context.Context, req SessionRequest) (*session.Session, error) {
	cfg := a.SessionConfig(req)
	log := logging.WithStream(cfg.ID, cfg.TenantID, string(cfg.Locale), string(cfg.Provider))

	opts := []session.Option{
		session.WithTables(a.Tables),
		session.WithPublisher(a.Publisher),
		session.WithMetrics(a.Metrics),
		session.WithLogger(log),
	}

	transcriber, err := a.NewTranscriber(ctx, cfg.Provider, cfg.Locale, cfg.Analyser.SampleRateHz)
	if err != nil {
		log.Warn().Err(err).Msg("Transcriber unavailable, scoring voice signal only")
	} else if transcriber != nil {
		opts = append(opts, session.WithTranscriber(transcriber))
	}

	s, err := session.New(cfg, opts...)
	if err != nil {
		if transcriber != nil {
			_ = transcriber.Close()
		}
		return nil, err
	}
	if err := a.Sessions.Add(s); err != nil {
		if transcriber != nil {
			_ = transcriber.Close()
		}
		return nil, fmt.Errorf("session %s: %w", cfg.ID, err)
	}

	startErr := s.Start(ctx)
	if startErr != nil && !errors.Is(startErr, session.ErrTranscriptionUnavailable) {
		a.Sessions.Remove(s)
		return nil, startErr
	}
	return s, startErr
}

// CloseSession stops s and removes it from the registry.
func (a *Application) CloseSession(s *session.Session) {
	s.Stop()
	a.Sessions.Remove(s)
}

func (a *Application) defaultTranscriber(ctx context.Context, provider stt.Provider, locale models.Locale, sampleRateHz int) (stt.Adapter, error) {
	switch provider {
	case stt.ProviderMock:
		return mock.New(locale, mock.WithFramesPerStep(a.Cfg.STT.MockFramesPerStep)), nil
	case stt.ProviderGoogle:
		gcfg := googlestt.Config{
			SampleRateHz:   int32(sampleRateHz),
			InterimResults: a.Cfg.STT.InterimResults,
			AudioEncoding:  a.Cfg.STT.AudioEncoding,
		}.ForLocale(locale)
		adapter, err := googlestt.New(ctx, gcfg)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	default:
		return nil, nil
	}
}
