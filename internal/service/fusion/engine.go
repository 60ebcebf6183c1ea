// Package fusion combines the transcript cue score and the acoustic spoof
// score into a single bounded risk state.
package fusion

import (
	"math"

	"voice-risk-service/internal/models"
	"voice-risk-service/internal/service/textrisk"
)

// Fusion weights: transcript content dominates, the acoustic cue can still
// escalate an otherwise quiet call.
const (
	TextWeight  = 0.7
	SpoofWeight = 0.3

	// SpoofRationaleThreshold is the spoof percentage at which the voice
	// itself becomes the rationale.
	SpoofRationaleThreshold = 60
	RationaleSpoof          = "voice spoof-like"
)

// Input carries whichever signals the caller has. An empty committed Text
// leaves the transcript window untouched; a nil SpoofScore keeps the last
// spoof score. Interim text is revisable and replaced by the next chunk, so
// an empty interim clears the tail.
type Input struct {
	Text       string
	Interim    bool
	SpoofScore *float64
}

// Spoof is a convenience constructor for spoof-only input.
func Spoof(score float64) Input {
	return Input{SpoofScore: &score}
}

// Text is a convenience constructor for committed transcript input.
func Text(chunk string) Input {
	return Input{Text: chunk}
}

// Interim is a convenience constructor for revisable transcript input.
func Interim(chunk string) Input {
	return Input{Text: chunk, Interim: true}
}

// Engine holds the running risk state of one session.
// It is not safe for concurrent use.
type Engine struct {
	scanner *textrisk.Scanner
	spoof   float64
	text    models.TextSignal
	state   models.RiskState
}

// New creates an engine that owns scanner.
func New(scanner *textrisk.Scanner) *Engine {
	return &Engine{
		scanner: scanner,
		state:   models.SafeState(),
	}
}

// Update applies in and returns the new state. The text score is always
// rescanned from the scanner's current window.
func (e *Engine) Update(in Input) models.RiskState {
	if in.SpoofScore != nil {
		e.spoof = *in.SpoofScore
	}
	switch {
	case in.Interim:
		e.text = e.scanner.SetInterim(in.Text)
	case in.Text != "":
		e.text = e.scanner.Append(in.Text)
	default:
		e.text = e.scanner.Scan()
	}

	spoofPercent := SpoofPercent(e.spoof)
	fused := Fuse(e.text.Score, spoofPercent)

	rationale := e.text.Rationale
	if rationale == "" {
		if spoofPercent >= SpoofRationaleThreshold {
			rationale = RationaleSpoof
		} else {
			rationale = e.state.Rationale
		}
	}

	e.state = models.RiskState{
		Score:     fused,
		Label:     models.LabelForScore(fused),
		Rationale: rationale,
	}
	return e.state
}

// State returns the current risk state.
func (e *Engine) State() models.RiskState {
	return e.state
}

// TextSignal returns the last transcript scan result.
func (e *Engine) TextSignal() models.TextSignal {
	return e.text
}

// Reset restores {0, Safe, ""} and clears the transcript window.
func (e *Engine) Reset() {
	e.scanner.Reset()
	e.spoof = 0
	e.text = models.TextSignal{}
	e.state = models.SafeState()
}

// SpoofPercent converts a 0..1 spoof score into a rounded percentage.
func SpoofPercent(spoof float64) int {
	if math.IsNaN(spoof) || spoof < 0 {
		spoof = 0
	}
	if spoof > 1 {
		spoof = 1
	}
	return int(math.Round(spoof * 100))
}

// Fuse returns round(0.7*text + 0.3*spoofPercent) clamped to [0,100].
func Fuse(textScore, spoofPercent int) int {
	fused := int(math.Round(TextWeight*float64(textScore) + SpoofWeight*float64(spoofPercent)))
	if fused < 0 {
		return 0
	}
	if fused > 100 {
		return 100
	}
	return fused
}
