package session

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"voice-risk-service/internal/models"
	"voice-risk-service/internal/observability/logging"
	"voice-risk-service/internal/observability/metrics"
	"voice-risk-service/internal/service/acoustic"
	"voice-risk-service/internal/service/alert"
	"voice-risk-service/internal/service/audio"
	"voice-risk-service/internal/service/fusion"
	"voice-risk-service/internal/service/textrisk"
)

// Step is the outcome of feeding one input through the pipeline.
type Step struct {
	Update   models.RiskUpdate
	Previous models.Label
	// Emit is set when the risk state changed or an alert was requested.
	Emit bool
}

// LabelChanged reports whether the step moved the call to another label.
func (s Step) LabelChanged() bool {
	return s.Update.Risk.Label != s.Previous
}

// Pipeline is the single-threaded risk core of one call: analyser, feature
// extractor, fusion engine and alert coordinator. It is not safe for
// concurrent use; a Session owns it from its run loop.
type Pipeline struct {
	cfg       Config
	analyser  *audio.Analyser
	extractor *acoustic.Extractor
	fusion    *fusion.Engine
	alerts    *alert.Coordinator
	features  models.FeatureSample
	last      models.RiskUpdate
	now       func() time.Time
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

// NewPipeline builds the risk core for cfg. An analyser that cannot be built
// from cfg means there is no usable capture source.
func NewPipeline(cfg Config, opts ...Option) (*Pipeline, error) {
	o := buildOptions(opts)
	return newPipeline(cfg, o)
}

func newPipeline(cfg Config, o options) (*Pipeline, error) {
	analyser, err := audio.NewAnalyser(cfg.Analyser)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}

	alertCfg := cfg.Alert
	alertCfg.Locale = cfg.Locale
	scanner := textrisk.NewScanner(o.tables, cfg.Locale)

	p := &Pipeline{
		cfg:       cfg,
		analyser:  analyser,
		extractor: acoustic.NewExtractor(cfg.Spoof),
		fusion:    fusion.New(scanner),
		alerts: alert.NewCoordinator(alertCfg, o.speaker, o.notifier,
			alert.WithClock(o.now), alert.WithLogger(o.log)),
		now:     o.now,
		log:     o.log,
		metrics: o.metrics,
	}
	p.last = p.update(models.SafeState(), alert.Decision{})
	return p, nil
}

// WriteAudio appends LINEAR16 PCM to the analyser.
func (p *Pipeline) WriteAudio(pcm []byte) error {
	return p.analyser.Write(pcm)
}

// Tick runs one analysis pass if audio arrived since the previous one.
// Malformed frames are skipped, or panic when StrictFrames is set.
func (p *Pipeline) Tick() (Step, bool) {
	if !p.analyser.Pending() {
		return Step{}, false
	}
	p.metrics.RecordAnalysisTick()

	frame := p.analyser.Frame()
	sample, err := p.extractor.Extract(frame.TimeDomain, frame.FreqDB, frame.SampleRate)
	if err != nil {
		if p.cfg.StrictFrames {
			panic(fmt.Sprintf("session %s: %v", p.cfg.ID, err))
		}
		p.metrics.RecordMalformedFrame()
		p.log.Warn().Err(err).Msg("Skipping malformed analysis frame")
		return Step{}, false
	}
	p.features = sample

	return p.observe(p.fusion.Update(fusion.Spoof(sample.SpoofScore))), true
}

// Transcript feeds one transcript chunk. Interim chunks are revisable;
// final chunks are committed to the window.
func (p *Pipeline) Transcript(text string, final bool) Step {
	in := fusion.Interim(text)
	if final {
		in = fusion.Text(text)
	}
	return p.observe(p.fusion.Update(in))
}

// Reset returns the call to a fresh Safe state with a fresh alert session.
// Acoustic features are cleared until the next analysed frame.
func (p *Pipeline) Reset() Step {
	previous := p.last.Risk.Label
	p.fusion.Reset()
	p.alerts.Reset()
	p.features = models.FeatureSample{}
	p.last = p.update(p.fusion.State(), alert.Decision{})
	return Step{Update: p.last, Previous: previous, Emit: true}
}

// Last returns the most recent update.
func (p *Pipeline) Last() models.RiskUpdate {
	return p.last
}

// Text returns the current transcript window.
func (p *Pipeline) Text() models.TextSignal {
	return p.fusion.TextSignal()
}

func (p *Pipeline) observe(state models.RiskState) Step {
	decision := p.alerts.Observe(state)
	previous := p.last.Risk
	p.last = p.update(state, decision)

	p.metrics.RecordRiskScore(state.Score)
	if previous.Label != state.Label {
		p.metrics.RecordLabelTransition(string(previous.Label), string(state.Label))
		p.log.Info().
			Str("from", string(previous.Label)).
			Dict("risk", logging.Risk(state)).
			Msg("Risk label changed")
	}
	if decision.Speech != nil {
		p.metrics.RecordSpokenAlert(string(decision.Speech.Locale))
	}
	if decision.Notification != nil {
		p.metrics.RecordNotification(string(state.Label))
	}

	return Step{
		Update:   p.last,
		Previous: previous.Label,
		Emit:     previous != state || !decision.Empty(),
	}
}

func (p *Pipeline) update(state models.RiskState, d alert.Decision) models.RiskUpdate {
	return models.RiskUpdate{
		SessionID:    p.cfg.ID,
		TenantID:     p.cfg.TenantID,
		Locale:       p.cfg.Locale,
		Risk:         state,
		Features:     p.features,
		Speech:       d.Speech,
		Notification: d.Notification,
		Timestamp:    p.now().UnixMilli(),
	}
}
