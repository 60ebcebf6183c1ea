// Package session runs the risk analysis of one live call. A session owns a
// single goroutine that serialises audio ticks, transcript chunks and resets
// through the risk pipeline, and a dispatcher that fans results out to
// subscribers and the event publisher.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"voice-risk-service/internal/models"
	"voice-risk-service/internal/observability/logging"
	"voice-risk-service/internal/observability/metrics"
	"voice-risk-service/internal/service/acoustic"
	"voice-risk-service/internal/service/alert"
	"voice-risk-service/internal/service/audio"
	"voice-risk-service/internal/service/stt"
	"voice-risk-service/internal/service/textrisk"
)

// Errors surfaced when a call cannot be fully set up.
var (
	// ErrCaptureUnavailable means no usable audio source; the session is not created.
	ErrCaptureUnavailable = errors.New("audio capture unavailable")
	// ErrTranscriptionUnavailable means the session runs on spoof score only.
	ErrTranscriptionUnavailable = errors.New("transcription unavailable")
)

const (
	// DefaultTickInterval is the acoustic analysis period.
	DefaultTickInterval = 50 * time.Millisecond

	audioQueueSize      = 64
	transcriptQueueSize = 64
	dispatchQueueSize   = 256
	subscriberBuffer    = 32
	publishTimeout      = 5 * time.Second
)

// Publisher receives outbound risk events.
type Publisher interface {
	PublishRiskState(ctx context.Context, ev models.RiskStateEvent) error
	PublishAlert(ctx context.Context, ev models.RiskAlertEvent) error
}

// Config describes one call session.
type Config struct {
	ID           string
	TenantID     string
	Locale       models.Locale
	Provider     stt.Provider
	Alert        alert.Config
	Analyser     audio.AnalyserConfig
	Spoof        acoustic.SpoofWeights
	Limits       audio.StreamLimits
	TickInterval time.Duration
	StrictFrames bool
}

// DefaultConfig returns the settings of a default en-US call.
func DefaultConfig() Config {
	return Config{
		Locale:       models.DefaultLocale,
		Provider:     stt.ProviderNone,
		Alert:        alert.DefaultConfig(),
		Analyser:     audio.DefaultAnalyserConfig(),
		Spoof:        acoustic.DefaultSpoofWeights(),
		Limits:       audio.DefaultLimits(),
		TickInterval: DefaultTickInterval,
	}
}

type options struct {
	tables      *textrisk.Tables
	transcriber stt.Adapter
	publisher   Publisher
	metrics     *metrics.Metrics
	log         zerolog.Logger
	hasLog      bool
	now         func() time.Time
	speaker     alert.Speaker
	notifier    alert.Notifier
}

// Option configures a Session or Pipeline.
type Option func(*options)

// WithTables sets the pattern tables used by the transcript scanner.
func WithTables(t *textrisk.Tables) Option {
	return func(o *options) { o.tables = t }
}

// WithTranscriber attaches a transcription adapter to the session.
func WithTranscriber(a stt.Adapter) Option {
	return func(o *options) { o.transcriber = a }
}

// WithPublisher sets the outbound event publisher.
func WithPublisher(p Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger sets the session logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.log = l
		o.hasLog = true
	}
}

// WithClock overrides the clock used for timestamps and alert cooldowns.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithSpeaker sets the speech-output collaborator.
func WithSpeaker(s alert.Speaker) Option {
	return func(o *options) { o.speaker = s }
}

// WithNotifier sets the notification collaborator.
func WithNotifier(n alert.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

func buildOptions(opts []Option) options {
	o := options{
		metrics: metrics.DefaultMetrics,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tables == nil {
		o.tables = textrisk.DefaultTables()
	}
	return o
}

type transcript struct {
	text  string
	final bool
	epoch uint64
}

// Session is one live call.
type Session struct {
	cfg       Config
	lifecycle *Lifecycle
	pipeline  *Pipeline
	log       zerolog.Logger
	metrics   *metrics.Metrics
	publisher Publisher
	now       func() time.Time

	mu          sync.Mutex
	transcriber stt.Adapter
	runCtx      context.Context
	cancel      context.CancelFunc
	startedAt   time.Time
	meter       *audio.Meter

	audio       chan []byte
	transcripts chan transcript
	resets      chan chan struct{}
	out         chan Step
	loopDone    chan struct{}
	dispatched  chan struct{}
	stopOnce    sync.Once

	epoch    atomic.Uint64
	snapshot atomic.Pointer[models.RiskUpdate]
	degraded atomic.Bool

	subMu      sync.Mutex
	subs       map[uint64]chan models.RiskUpdate
	nextSub    uint64
	subsClosed bool
}

// New creates an idle session. It fails with ErrCaptureUnavailable when the
// analyser cannot be built from cfg.
func New(cfg Config, opts ...Option) (*Session, error) {
	if cfg.ID == "" {
		return nil, errors.New("session id is required")
	}
	cfg.Locale = models.ParseLocale(string(cfg.Locale))
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}

	o := buildOptions(opts)
	if !o.hasLog {
		o.log = logging.WithStream(cfg.ID, cfg.TenantID, string(cfg.Locale), string(cfg.Provider))
	}

	p, err := newPipeline(cfg, o)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:         cfg,
		lifecycle:   NewLifecycle(cfg.ID),
		pipeline:    p,
		log:         o.log,
		metrics:     o.metrics,
		publisher:   o.publisher,
		now:         o.now,
		transcriber: o.transcriber,
		audio:       make(chan []byte, audioQueueSize),
		transcripts: make(chan transcript, transcriptQueueSize),
		resets:      make(chan chan struct{}),
		out:         make(chan Step, dispatchQueueSize),
		loopDone:    make(chan struct{}),
		dispatched:  make(chan struct{}),
		subs:        make(map[uint64]chan models.RiskUpdate),
	}
	initial := p.Last()
	s.snapshot.Store(&initial)
	return s, nil
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.cfg.ID
}

// Config returns the session configuration.
func (s *Session) Config() Config {
	return s.cfg
}

// State returns the lifecycle state.
func (s *Session) State() State {
	return s.lifecycle.State()
}

// Degraded reports whether the session is scoring without transcripts.
func (s *Session) Degraded() bool {
	return s.degraded.Load()
}

// Start begins analysis. When the transcriber cannot start the session still
// runs on the spoof score alone and Start returns an error wrapping
// ErrTranscriptionUnavailable; any other error means nothing was started.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if err := s.lifecycle.Start(); err != nil {
		s.mu.Unlock()
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.runCtx = runCtx
	s.cancel = cancel
	s.startedAt = s.now()
	s.meter = audio.NewMeter(s.cfg.Limits)
	transcriber := s.transcriber
	s.mu.Unlock()

	s.metrics.RecordSessionStart()

	var startErr error
	if transcriber != nil {
		if err := transcriber.Start(runCtx, s); err != nil {
			startErr = fmt.Errorf("%w: %v", ErrTranscriptionUnavailable, err)
			s.mu.Lock()
			s.transcriber = nil
			s.mu.Unlock()
			s.markDegraded("stt_start_failed", err)
		}
	} else if !s.cfg.Provider.InBand() {
		startErr = fmt.Errorf("%w: no adapter for provider %q", ErrTranscriptionUnavailable, s.cfg.Provider)
		s.markDegraded("stt_missing", nil)
	}

	go s.run(runCtx)
	go s.dispatch()

	s.log.Info().
		Dur("tickInterval", s.cfg.TickInterval).
		Bool("degraded", s.Degraded()).
		Msg("Session started")
	return startErr
}

// Stop ends analysis, waits for the loop and dispatcher to drain and closes
// the transcriber. Safe to call more than once and before Start.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.lifecycle.Stop()
		cancel, transcriber, startedAt := s.cancel, s.transcriber, s.startedAt
		s.mu.Unlock()
		if cancel == nil {
			s.closeSubscribers()
			return
		}

		cancel()
		<-s.loopDone
		<-s.dispatched

		if transcriber != nil {
			if err := transcriber.Close(); err != nil {
				s.log.Warn().Err(err).Msg("Error closing transcriber")
			}
		}
		s.metrics.RecordSessionEnd()

		last := s.Snapshot()
		s.log.Info().
			Dur("duration", s.now().Sub(startedAt)).
			Int("score", last.Risk.Score).
			Str("label", string(last.Risk.Label)).
			Msg("Session stopped")
	})
}

// Done is closed once the analysis loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.loopDone
}

// PushAudio forwards LINEAR16 PCM to the transcriber and the analysis loop.
func (s *Session) PushAudio(ctx context.Context, pcm []byte) error {
	if err := s.lifecycle.Check(); err != nil {
		return err
	}
	if len(pcm)%2 != 0 {
		return fmt.Errorf("%w: %d bytes", audio.ErrOddPCM, len(pcm))
	}

	s.mu.Lock()
	err := s.meter.Add(len(pcm))
	transcriber := s.transcriber
	s.mu.Unlock()
	if err != nil {
		var le *audio.LimitError
		if errors.As(err, &le) {
			s.metrics.RecordLimitExceeded(le.Type)
		}
		return err
	}
	if s.stopped() {
		return ErrSessionStopped
	}
	s.metrics.RecordAudioReceived(len(pcm))

	if transcriber != nil {
		if err := transcriber.SendAudio(ctx, pcm); err != nil {
			s.metrics.RecordSTTError(string(s.cfg.Provider), "send_audio")
			s.log.Warn().Err(err).Msg("Failed to forward audio to transcriber")
		}
	}

	select {
	case s.audio <- pcm:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.loopDone:
		return ErrSessionStopped
	}
}

// PushTranscript feeds an in-band transcript chunk.
func (s *Session) PushTranscript(ctx context.Context, text string, final bool) error {
	if err := s.lifecycle.Check(); err != nil {
		return err
	}
	return s.enqueueTranscript(ctx, text, final)
}

func (s *Session) enqueueTranscript(ctx context.Context, text string, final bool) error {
	if final {
		s.metrics.RecordFinalTranscript()
	} else {
		s.metrics.RecordPartialTranscript()
	}
	if s.stopped() {
		return ErrSessionStopped
	}
	ev := transcript{text: text, final: final, epoch: s.epoch.Load()}
	select {
	case s.transcripts <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.loopDone:
		return ErrSessionStopped
	}
}

// Reset clears the risk state and the alert session ("mark safe"). It
// returns once the loop has applied the reset; transcript chunks queued
// before the call are discarded.
func (s *Session) Reset(ctx context.Context) error {
	if err := s.lifecycle.Check(); err != nil {
		return err
	}
	ack := make(chan struct{})
	select {
	case s.resets <- ack:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.loopDone:
		return ErrSessionStopped
	}
	select {
	case <-ack:
		s.metrics.RecordSessionReset()
		s.log.Info().Msg("Session reset")
		return nil
	case <-s.loopDone:
		return ErrSessionStopped
	}
}

// Snapshot returns the latest risk update.
func (s *Session) Snapshot() models.RiskUpdate {
	return *s.snapshot.Load()
}

// Subscribe returns a channel of emitted risk updates and a cancel func.
// Slow subscribers miss updates rather than stall the session. The channel
// is closed when the session stops or cancel is called.
func (s *Session) Subscribe() (<-chan models.RiskUpdate, func()) {
	ch := make(chan models.RiskUpdate, subscriberBuffer)

	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.subsClosed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.metrics.RecordSubscriber(1)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
				s.metrics.RecordSubscriber(-1)
			}
		})
	}
}

// OnPartial implements stt.Callback.
func (s *Session) OnPartial(text string) {
	s.enqueueTranscript(s.context(), text, false)
}

// OnFinal implements stt.Callback.
func (s *Session) OnFinal(text string, confidence float64) {
	s.log.Debug().Str("text", text).Float64("confidence", confidence).Msg("Final transcript")
	s.enqueueTranscript(s.context(), text, true)
}

// OnEndOfUtterance implements stt.Callback.
func (s *Session) OnEndOfUtterance() {
	s.metrics.RecordUtterance()
}

// OnError implements stt.Callback. Transcription errors leave the session
// running on the spoof score.
func (s *Session) OnError(err error) {
	s.metrics.RecordSTTError(string(s.cfg.Provider), "stream")
	s.markDegraded("stt_error", err)
}

func (s *Session) stopped() bool {
	select {
	case <-s.loopDone:
		return true
	default:
		return false
	}
}

func (s *Session) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx == nil {
		return context.Background()
	}
	return s.runCtx
}

func (s *Session) markDegraded(reason string, err error) {
	if s.degraded.Swap(true) {
		return
	}
	s.metrics.RecordSessionDegraded(reason)
	s.log.Warn().Err(err).Str("reason", reason).Msg("Transcription unavailable, scoring on voice only")
}

// run is the only goroutine that touches the pipeline.
func (s *Session) run(ctx context.Context) {
	defer close(s.loopDone)
	defer close(s.out)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case pcm := <-s.audio:
			if err := s.pipeline.WriteAudio(pcm); err != nil {
				s.log.Warn().Err(err).Msg("Dropping audio chunk")
			}

		case ev := <-s.transcripts:
			if ev.epoch != s.epoch.Load() {
				continue
			}
			s.apply(s.pipeline.Transcript(ev.text, ev.final))

		case ack := <-s.resets:
			s.epoch.Add(1)
			s.apply(s.pipeline.Reset())
			close(ack)

		case <-ticker.C:
			if step, ok := s.pipeline.Tick(); ok {
				s.apply(step)
			}
		}
	}
}

func (s *Session) apply(step Step) {
	u := step.Update
	s.snapshot.Store(&u)
	if !step.Emit {
		return
	}
	select {
	case s.out <- step:
	default:
		s.log.Warn().Int("score", u.Risk.Score).Msg("Dispatch queue full, dropping risk update")
	}
}

// dispatch fans emitted steps out to subscribers and the publisher in order.
func (s *Session) dispatch() {
	defer close(s.dispatched)
	defer s.closeSubscribers()

	for step := range s.out {
		s.broadcast(step.Update)
		s.publish(step)
	}
}

func (s *Session) broadcast(u models.RiskUpdate) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

func (s *Session) publish(step Step) {
	if s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	u := step.Update
	if step.LabelChanged() {
		ev := models.RiskStateEvent{
			EventType:     models.EventRiskState,
			SessionID:     u.SessionID,
			TenantID:      u.TenantID,
			Locale:        u.Locale,
			PreviousLabel: step.Previous,
			Risk:          u.Risk,
			SpoofScore:    u.Features.SpoofScore,
			Timestamp:     u.Timestamp,
		}
		if err := s.publisher.PublishRiskState(ctx, ev); err != nil {
			s.log.Warn().Err(err).Msg("Failed to publish risk state")
		}
	}
	if u.Speech != nil || u.Notification != nil {
		ev := models.RiskAlertEvent{
			EventType:    models.EventRiskAlert,
			SessionID:    u.SessionID,
			TenantID:     u.TenantID,
			Risk:         u.Risk,
			Speech:       u.Speech,
			Notification: u.Notification,
			Timestamp:    u.Timestamp,
		}
		if err := s.publisher.PublishAlert(ctx, ev); err != nil {
			s.log.Warn().Err(err).Msg("Failed to publish alert")
		}
	}
}

func (s *Session) closeSubscribers() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.subsClosed {
		return
	}
	s.subsClosed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
		s.metrics.RecordSubscriber(-1)
	}
}
