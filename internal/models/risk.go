// Package models defines the data structures shared by the risk pipeline
// and the events it emits.
package models

import (
	"fmt"
	"strings"
)

// Label is the categorical risk level derived from a fused score.
type Label string

const (
	LabelSafe       Label = "Safe"
	LabelSuspicious Label = "Suspicious"
	LabelScam       Label = "Scam"
)

// Score thresholds for label classification. Lower bounds are inclusive.
const (
	ScamThreshold       = 65
	SuspiciousThreshold = 30
)

// LabelForScore maps a fused score onto its label.
func LabelForScore(score int) Label {
	switch {
	case score >= ScamThreshold:
		return LabelScam
	case score >= SuspiciousThreshold:
		return LabelSuspicious
	default:
		return LabelSafe
	}
}

// Severity returns the ordinal of the label: Safe=0, Suspicious=1, Scam=2.
func (l Label) Severity() int {
	switch l {
	case LabelSuspicious:
		return 1
	case LabelScam:
		return 2
	default:
		return 0
	}
}

// Locale selects the pattern tables and alert wording.
type Locale string

const (
	LocaleEnUS Locale = "en-US"
	LocaleEsES Locale = "es-ES"
	LocaleFrFR Locale = "fr-FR"

	DefaultLocale = LocaleEnUS
)

// SupportedLocales lists every locale with pattern tables and alert text.
var SupportedLocales = []Locale{LocaleEnUS, LocaleEsES, LocaleFrFR}

// ParseLocale returns the supported locale matching s (case-insensitive),
// falling back to DefaultLocale.
func ParseLocale(s string) Locale {
	for _, l := range SupportedLocales {
		if strings.EqualFold(string(l), strings.TrimSpace(s)) {
			return l
		}
	}
	return DefaultLocale
}

// IsSupported reports whether l has its own tables.
func (l Locale) IsSupported() bool {
	for _, s := range SupportedLocales {
		if s == l {
			return true
		}
	}
	return false
}

// FeatureSample is one audio analysis tick.
type FeatureSample struct {
	Volume           float64 `json:"volume"`
	SpectralCentroid float64 `json:"spectralCentroid"`
	Flatness         float64 `json:"flatness"`
	ZeroCrossRate    float64 `json:"zeroCrossRate"`
	SpoofScore       float64 `json:"spoofScore"`
}

// TextSignal is the cue-scan result for the current transcript window.
type TextSignal struct {
	Score     int    `json:"score"`
	Rationale string `json:"rationale"`
}

// RiskState is the fused, externally visible risk snapshot.
type RiskState struct {
	Score     int    `json:"score"`
	Label     Label  `json:"label"`
	Rationale string `json:"rationale"`
}

// SafeState is the state of a fresh or reset session.
func SafeState() RiskState {
	return RiskState{Score: 0, Label: LabelSafe}
}

// Validate checks the score bounds and label consistency.
func (s RiskState) Validate() error {
	if s.Score < 0 || s.Score > 100 {
		return fmt.Errorf("risk score out of range: %d", s.Score)
	}
	if want := LabelForScore(s.Score); s.Label != want {
		return fmt.Errorf("label %q inconsistent with score %d (want %q)", s.Label, s.Score, want)
	}
	return nil
}

// SpeechRequest asks the speech-output collaborator to speak text once,
// cancelling any pending utterance.
type SpeechRequest struct {
	Text   string  `json:"text"`
	Locale Locale  `json:"locale"`
	Volume float64 `json:"volume"`
	Rate   float64 `json:"rate"`
}

// Notification asks the notification collaborator for a one-shot display.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
}
