package session

import (
	"errors"
	"testing"
	"time"

	"voice-risk-service/internal/models"
	"voice-risk-service/internal/service/alert"
	"voice-risk-service/internal/service/fusion"
)

func newTestPipeline(t *testing.T, clock *fakeClock) *Pipeline {
	t.Helper()
	p, err := NewPipeline(testConfig("sess-1"), testOptions(WithClock(clock.Now))...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return p
}

func TestNewPipeline_CaptureUnavailable(t *testing.T) {
	cfg := testConfig("sess-1")
	cfg.Analyser.SampleRateHz = 0

	_, err := NewPipeline(cfg, testOptions()...)
	if !errors.Is(err, ErrCaptureUnavailable) {
		t.Errorf("expected ErrCaptureUnavailable, got %v", err)
	}
}

func TestPipeline_InitialState(t *testing.T) {
	p := newTestPipeline(t, newFakeClock())

	last := p.Last()
	if last.Risk != models.SafeState() {
		t.Errorf("expected safe initial state, got %+v", last.Risk)
	}
	if last.SessionID != "sess-1" || last.TenantID != "tenant-a" {
		t.Errorf("expected session identity on update, got %+v", last)
	}
}

func TestPipeline_TickRequiresAudio(t *testing.T) {
	p := newTestPipeline(t, newFakeClock())

	if _, ok := p.Tick(); ok {
		t.Fatal("expected no tick without audio")
	}

	if err := p.WriteAudio(silence(160)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	step, ok := p.Tick()
	if !ok {
		t.Fatal("expected a tick after audio")
	}

	// Silence: flat floor spectrum, zero centroid, zero loudness.
	if step.Update.Risk.Score != 26 {
		t.Errorf("expected 26 for silence, got %d", step.Update.Risk.Score)
	}
	if step.Update.Risk.Label != models.LabelSafe {
		t.Errorf("expected Safe, got %s", step.Update.Risk.Label)
	}
	if step.Update.Risk.Rationale != fusion.RationaleSpoof {
		t.Errorf("expected spoof rationale, got %q", step.Update.Risk.Rationale)
	}
	if !step.Emit {
		t.Error("expected first tick to emit")
	}

	if _, ok := p.Tick(); ok {
		t.Error("expected no second tick without new audio")
	}
}

func TestPipeline_WriteAudioOddLength(t *testing.T) {
	p := newTestPipeline(t, newFakeClock())

	if err := p.WriteAudio(make([]byte, 3)); err == nil {
		t.Error("expected error for odd PCM length")
	}
}

func TestPipeline_TranscriptEscalation(t *testing.T) {
	p := newTestPipeline(t, newFakeClock())

	step := p.Transcript("please read me your one-time code", true)

	if step.Update.Risk.Score != 63 {
		t.Errorf("expected 63, got %d", step.Update.Risk.Score)
	}
	if !step.LabelChanged() || step.Previous != models.LabelSafe {
		t.Errorf("expected Safe -> Suspicious transition, got %s -> %s", step.Previous, step.Update.Risk.Label)
	}
	if step.Update.Notification == nil || step.Update.Notification.Title != alert.TitleWarning {
		t.Errorf("expected warning notification, got %+v", step.Update.Notification)
	}
	if step.Update.Speech == nil {
		t.Error("expected spoken alert for suspicion >= 50")
	}
}

func TestPipeline_InterimThenFinalDoesNotReEmit(t *testing.T) {
	p := newTestPipeline(t, newFakeClock())

	p.Transcript("please read me your one-time code", false)
	step := p.Transcript("please read me your one-time code", true)

	if step.Emit {
		t.Errorf("expected no emission for unchanged state inside cooldown, got %+v", step.Update)
	}
}

func TestPipeline_SpokenAlertCooldown(t *testing.T) {
	clock := newFakeClock()
	p := newTestPipeline(t, clock)

	spoken := 0
	for i := 0; i < 10; i++ {
		step := p.Transcript("tell me your otp and buy a gift card", true)
		if step.Update.Speech != nil {
			spoken++
		}
		clock.Advance(time.Second)
	}

	if spoken != 3 {
		t.Errorf("expected 3 spoken alerts over 10 s, got %d", spoken)
	}
}

func TestPipeline_Reset(t *testing.T) {
	p := newTestPipeline(t, newFakeClock())
	p.Transcript("please read me your one-time code", true)

	step := p.Reset()

	if step.Update.Risk != models.SafeState() {
		t.Errorf("expected safe state after reset, got %+v", step.Update.Risk)
	}
	if step.Previous != models.LabelSuspicious || !step.Emit {
		t.Errorf("expected emitted transition from Suspicious, got %+v", step)
	}

	again := p.Transcript("please read me your one-time code", true)
	if again.Update.Notification == nil || again.Update.Speech == nil {
		t.Error("expected fresh alert session after reset")
	}
}

func TestPipeline_ResetClearsFeatures(t *testing.T) {
	p := newTestPipeline(t, newFakeClock())
	if err := p.WriteAudio(silence(160)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := p.Tick(); !ok {
		t.Fatal("expected a tick after audio")
	}
	if p.Last().Features == (models.FeatureSample{}) {
		t.Fatal("expected features from the analysed frame")
	}

	step := p.Reset()

	if step.Update.Features != (models.FeatureSample{}) {
		t.Errorf("expected zero features after reset, got %+v", step.Update.Features)
	}
	if p.Last().Features != (models.FeatureSample{}) {
		t.Errorf("expected zero features in snapshot after reset, got %+v", p.Last().Features)
	}
}

func TestPipeline_LocaleSelectsTables(t *testing.T) {
	cfg := testConfig("sess-fr")
	cfg.Locale = models.LocaleFrFR
	p, err := NewPipeline(cfg, testOptions()...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	step := p.Transcript("partage moi ton code", true)
	if step.Update.Risk.Rationale != "demande explicite de code" {
		t.Errorf("expected French rationale, got %q", step.Update.Risk.Rationale)
	}
	if step.Update.Speech == nil || step.Update.Speech.Locale != models.LocaleFrFR {
		t.Errorf("expected French spoken alert, got %+v", step.Update.Speech)
	}
}
