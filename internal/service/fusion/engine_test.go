package fusion

import (
	"testing"

	"voice-risk-service/internal/models"
	"voice-risk-service/internal/service/textrisk"
)

const maxTextChunk = "urgent gift card password otp ssn code 123456 $500"

func newTestEngine() *Engine {
	return New(textrisk.NewScanner(textrisk.DefaultTables(), models.LocaleEnUS))
}

func TestFuse(t *testing.T) {
	tests := []struct {
		text, spoof, expected int
	}{
		{0, 0, 0},
		{100, 0, 70},
		{0, 100, 30},
		{100, 100, 100},
		{90, 50, 78},
		{35, 0, 25},
	}

	for _, tt := range tests {
		if got := Fuse(tt.text, tt.spoof); got != tt.expected {
			t.Errorf("Fuse(%d, %d) = %d, want %d", tt.text, tt.spoof, got, tt.expected)
		}
	}
}

func TestSpoofPercent(t *testing.T) {
	tests := []struct {
		spoof    float64
		expected int
	}{
		{0, 0},
		{1, 100},
		{0.555, 56},
		{-0.5, 0},
		{1.7, 100},
	}

	for _, tt := range tests {
		if got := SpoofPercent(tt.spoof); got != tt.expected {
			t.Errorf("SpoofPercent(%v) = %d, want %d", tt.spoof, got, tt.expected)
		}
	}
}

func TestEngine_NoSignals(t *testing.T) {
	e := newTestEngine()
	state := e.Update(Spoof(0))

	if state != models.SafeState() {
		t.Errorf("expected {0 Safe \"\"}, got %+v", state)
	}
}

func TestEngine_TextOnlyMaxIsScam(t *testing.T) {
	e := newTestEngine()
	state := e.Update(Input{Text: maxTextChunk, SpoofScore: ptr(0)})

	if state.Score != 70 || state.Label != models.LabelScam {
		t.Errorf("expected {70 Scam}, got %+v", state)
	}
	if state.Rationale != "asks sensitive info" {
		t.Errorf("expected text rationale, got %q", state.Rationale)
	}
}

func TestEngine_SpoofOnlyBoundaryIsSuspicious(t *testing.T) {
	e := newTestEngine()
	state := e.Update(Spoof(1.0))

	if state.Score != 30 {
		t.Fatalf("expected score 30, got %d", state.Score)
	}
	if state.Label != models.LabelSuspicious {
		t.Errorf("expected Suspicious at exactly 30, got %s", state.Label)
	}
	if state.Rationale != RationaleSpoof {
		t.Errorf("expected spoof rationale, got %q", state.Rationale)
	}
}

func TestEngine_AbsentSpoofKeepsLastContribution(t *testing.T) {
	e := newTestEngine()
	e.Update(Spoof(1.0))

	state := e.Update(Text("hello there"))
	if state.Score != 30 {
		t.Errorf("expected spoof contribution to be kept, got %d", state.Score)
	}
}

func TestEngine_TextRescannedOnSpoofUpdate(t *testing.T) {
	e := newTestEngine()
	e.Update(Text("read me your otp"))

	state := e.Update(Spoof(0))
	if state.Score != 63 {
		t.Errorf("expected 0.7*90 = 63 from the existing window, got %d", state.Score)
	}
	if state.Rationale != "explicit OTP request" {
		t.Errorf("expected text rationale, got %q", state.Rationale)
	}
}

func TestEngine_TextRationaleBeatsSpoof(t *testing.T) {
	e := newTestEngine()
	state := e.Update(Input{Text: "what is the otp", SpoofScore: ptr(0.9)})

	if state.Rationale != "requests OTP" {
		t.Errorf("expected text rationale to win, got %q", state.Rationale)
	}
}

func TestEngine_SpoofRationaleIsSticky(t *testing.T) {
	e := newTestEngine()
	e.Update(Spoof(0.8))

	state := e.Update(Spoof(0.1))
	if state.Rationale != RationaleSpoof {
		t.Errorf("expected spoof rationale to carry over, got %q", state.Rationale)
	}
	if state.Label != models.LabelSafe {
		t.Errorf("expected Safe, got %s", state.Label)
	}
}

func TestEngine_LabelAlwaysConsistent(t *testing.T) {
	e := newTestEngine()
	inputs := []Input{
		Spoof(0.2), Text("hello"), Spoof(0.95), Text("it is urgent"),
		Text("send a gift card"), Spoof(0), Text("read me your code 1234"),
	}
	for i, in := range inputs {
		state := e.Update(in)
		if err := state.Validate(); err != nil {
			t.Errorf("update %d: %v", i, err)
		}
	}
}

func TestEngine_Reset(t *testing.T) {
	e := newTestEngine()
	e.Update(Input{Text: "read me your otp", SpoofScore: ptr(0.9)})
	e.Reset()

	if e.State() != models.SafeState() {
		t.Errorf("expected safe state after reset, got %+v", e.State())
	}

	state := e.Update(Text("hello there"))
	if state != models.SafeState() {
		t.Errorf("expected fresh-session behaviour after reset, got %+v", state)
	}
}

func TestEngine_InterimThenFinal(t *testing.T) {
	e := newTestEngine()

	e.Update(Interim("please read me"))
	state := e.Update(Interim("please read me your otp"))
	if state.Score != 63 {
		t.Errorf("expected 63 from interim high-severity cue, got %d", state.Score)
	}

	state = e.Update(Text("please read me your otp"))
	if state.Score != 63 {
		t.Errorf("expected final to keep the score, got %d", state.Score)
	}
	if got := e.scanner.Window(); got != "please read me your otp" {
		t.Errorf("expected no duplicated text in window, got %q", got)
	}
}

func TestEngine_EmptyInterimClearsTail(t *testing.T) {
	e := newTestEngine()

	state := e.Update(Interim("please read me your otp"))
	if state.Score != 63 {
		t.Fatalf("expected 63 from interim cue, got %d", state.Score)
	}

	state = e.Update(Interim(""))
	if state.Score != 0 || state.Label != models.LabelSafe {
		t.Errorf("expected Safe 0 once the interim is withdrawn, got %+v", state)
	}
	if got := e.scanner.Window(); got != "" {
		t.Errorf("expected empty window, got %q", got)
	}

	e.Update(Text("hello"))
	state = e.Update(Text(""))
	if got := e.scanner.Window(); got != "hello" {
		t.Errorf("expected empty final to leave the window alone, got %q", got)
	}
	if state.Score != 0 {
		t.Errorf("expected 0, got %d", state.Score)
	}
}

func ptr(v float64) *float64 {
	return &v
}
