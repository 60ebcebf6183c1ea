// Package alert turns risk-state transitions into throttled, user-facing
// alert requests: spoken warnings and visual escalation notifications.
package alert

import (
	"time"

	"github.com/rs/zerolog"

	"voice-risk-service/internal/models"
)

const (
	// DefaultCooldown is the minimum interval between spoken alerts.
	DefaultCooldown = 4 * time.Second
	// DefaultVolume and DefaultRate are the spoken-alert voice settings.
	DefaultVolume = 0.6
	DefaultRate   = 0.95

	// HighSuspicionScore makes a Suspicious call loud enough to speak.
	HighSuspicionScore = 50
)

// Notification titles.
const (
	TitleHighRisk = "High risk: possible fraud"
	TitleWarning  = "Warning: suspicious activity"
)

var spokenMessages = map[models.Locale]string{
	models.LocaleEnUS: "Attention: possible fraud detected. Do not share codes or personal information.",
	models.LocaleEsES: "Atención: posible fraude detectado. No comparta códigos ni información personal.",
	models.LocaleFrFR: "Attention : fraude possible détectée. Ne partagez pas de codes ni d'informations personnelles.",
}

// SpokenMessage returns the spoken warning for locale, falling back to the
// default locale.
func SpokenMessage(locale models.Locale) string {
	if msg, ok := spokenMessages[locale]; ok {
		return msg
	}
	return spokenMessages[models.DefaultLocale]
}

// Speaker is the speech-output collaborator.
type Speaker interface {
	Speak(req models.SpeechRequest)
}

// Notifier is the notification collaborator.
type Notifier interface {
	Notify(n models.Notification)
}

// Config is the caller-supplied alert configuration.
type Config struct {
	Locale        models.Locale
	SpokenEnabled bool
	Volume        float64
	Rate          float64
	Cooldown      time.Duration
}

// DefaultConfig returns spoken alerts enabled at the default volume.
func DefaultConfig() Config {
	return Config{
		Locale:        models.DefaultLocale,
		SpokenEnabled: true,
		Volume:        DefaultVolume,
		Rate:          DefaultRate,
		Cooldown:      DefaultCooldown,
	}
}

// Session is the alert state of one call. A zero LastAlertedAt means no
// spoken alert has been emitted yet.
type Session struct {
	LastAlertedAt time.Time
	LastSeverity  int
}

// Decision reports what Observe emitted, if anything.
type Decision struct {
	Speech       *models.SpeechRequest
	Notification *models.Notification
}

// Empty reports whether nothing was emitted.
func (d Decision) Empty() bool {
	return d.Speech == nil && d.Notification == nil
}

// Coordinator applies escalation and cooldown rules to risk updates.
// It is not safe for concurrent use.
type Coordinator struct {
	cfg      Config
	session  Session
	speaker  Speaker
	notifier Notifier
	now      func() time.Time
	log      zerolog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the clock used for the cooldown.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLogger sets the coordinator logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// NewCoordinator creates a coordinator with a fresh session. speaker and
// notifier may be nil; decisions are still returned from Observe.
func NewCoordinator(cfg Config, speaker Speaker, notifier Notifier, opts ...Option) *Coordinator {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultRate
	}
	if !cfg.Locale.IsSupported() {
		cfg.Locale = models.DefaultLocale
	}
	c := &Coordinator{
		cfg:      cfg,
		speaker:  speaker,
		notifier: notifier,
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Observe runs both checks on a risk update.
func (c *Coordinator) Observe(state models.RiskState) Decision {
	var d Decision

	severity := state.Label.Severity()
	if severity > c.session.LastSeverity {
		n := escalationNotification(severity, state.Rationale)
		d.Notification = &n
		if c.notifier != nil {
			c.notifier.Notify(n)
		}
		c.log.Info().
			Str("label", string(state.Label)).
			Int("score", state.Score).
			Str("rationale", state.Rationale).
			Msg("Risk escalated")
	}
	c.session.LastSeverity = severity

	if c.shouldSpeak(state) {
		now := c.now()
		if c.session.LastAlertedAt.IsZero() || now.Sub(c.session.LastAlertedAt) >= c.cfg.Cooldown {
			req := models.SpeechRequest{
				Text:   SpokenMessage(c.cfg.Locale),
				Locale: c.cfg.Locale,
				Volume: clamp01(c.cfg.Volume),
				Rate:   c.cfg.Rate,
			}
			d.Speech = &req
			c.session.LastAlertedAt = now
			if c.speaker != nil {
				c.speaker.Speak(req)
			}
			c.log.Debug().Int("score", state.Score).Msg("Spoken alert requested")
		}
	}

	return d
}

// Session returns a copy of the alert session state.
func (c *Coordinator) Session() Session {
	return c.session
}

// Reset starts a fresh alert session.
func (c *Coordinator) Reset() {
	c.session = Session{}
}

// SetSpokenEnabled toggles spoken alerts.
func (c *Coordinator) SetSpokenEnabled(enabled bool) {
	c.cfg.SpokenEnabled = enabled
}

// SetVolume sets the spoken alert volume, clamped to [0,1].
func (c *Coordinator) SetVolume(v float64) {
	c.cfg.Volume = clamp01(v)
}

func (c *Coordinator) shouldSpeak(state models.RiskState) bool {
	if !c.cfg.SpokenEnabled {
		return false
	}
	return state.Label == models.LabelScam ||
		(state.Label == models.LabelSuspicious && state.Score >= HighSuspicionScore)
}

func escalationNotification(severity int, rationale string) models.Notification {
	n := models.Notification{Title: TitleWarning}
	if severity >= 2 {
		n.Title = TitleHighRisk
	}
	if rationale != "" {
		n.Body = "Reason: " + rationale
	}
	return n
}

func clamp01(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
