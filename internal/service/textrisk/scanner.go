// Package textrisk scans a rolling transcript window for scam-indicative
// language using locale-specific weighted pattern tables.
package textrisk

import (
	"strings"
	"unicode/utf8"

	"voice-risk-service/internal/models"
)

// WindowCap is the maximum transcript window length in characters.
const WindowCap = 600

// Scoring weights.
const (
	HighSeverityScore = 90
	BaseCueScore      = 35
	NumericCodeScore  = 30
	MoneyScore        = 20
	MultiCueBonus     = 20
)

// Fallback rationales when only the numeric or money cue fired.
const (
	RationaleNumericCode = "numeric code"
	RationaleMoney       = "money mention"
)

// Scanner owns one transcript window and the rationale carried between scans.
// The window is the committed text plus an optional interim tail that the
// next interim or final chunk replaces.
// It is not safe for concurrent use.
type Scanner struct {
	table     LocaleTable
	locale    models.Locale
	window    string
	interim   string
	rationale string
}

// NewScanner creates a scanner over the tables of locale. Unknown locales
// use the default locale's tables.
func NewScanner(tables *Tables, locale models.Locale) *Scanner {
	if !locale.IsSupported() {
		locale = models.DefaultLocale
	}
	return &Scanner{
		table:  tables.For(locale),
		locale: locale,
	}
}

// Locale returns the locale whose tables the scanner uses.
func (s *Scanner) Locale() models.Locale {
	return s.locale
}

// Append commits chunk to the window, dropping any interim tail, and rescans.
func (s *Scanner) Append(chunk string) models.TextSignal {
	s.window = appendWindow(s.window, chunk)
	s.interim = ""
	return s.Scan()
}

// SetInterim replaces the revisable tail of the window and rescans.
func (s *Scanner) SetInterim(chunk string) models.TextSignal {
	s.interim = strings.TrimSpace(chunk)
	return s.Scan()
}

// Scan scores the current window without modifying it.
func (s *Scanner) Scan() models.TextSignal {
	sig := score(s.table, s.Window(), s.rationale)
	s.rationale = sig.Rationale
	return sig
}

// Window returns the current transcript window, interim tail included.
func (s *Scanner) Window() string {
	if s.interim == "" {
		return s.window
	}
	return appendWindow(s.window, s.interim)
}

// Rationale returns the rationale carried into the next scan.
func (s *Scanner) Rationale() string {
	return s.rationale
}

// Reset clears the window and the carried rationale.
func (s *Scanner) Reset() {
	s.window = ""
	s.interim = ""
	s.rationale = ""
}

// appendWindow joins chunk to window with a space, trims surrounding
// whitespace and keeps the last WindowCap characters.
func appendWindow(window, chunk string) string {
	w := strings.TrimSpace(window + " " + chunk)
	if n := utf8.RuneCountInString(w); n > WindowCap {
		r := []rune(w)
		w = string(r[n-WindowCap:])
	}
	return w
}

// score evaluates text against the table. A high-severity match returns
// exactly HighSeverityScore and skips every other cue.
func score(t LocaleTable, text, prevRationale string) models.TextSignal {
	for _, p := range t.High {
		if p.Matches(text) {
			return models.TextSignal{Score: HighSeverityScore, Rationale: p.Label}
		}
	}

	total := 0
	hits := 0
	rationale := prevRationale
	for _, p := range t.Base {
		if p.Matches(text) {
			total += BaseCueScore
			hits++
			rationale = p.Label
		}
	}
	if numericCodeRe.MatchString(text) {
		total += NumericCodeScore
		if rationale == "" {
			rationale = RationaleNumericCode
		}
	}
	if moneyRe.MatchString(text) {
		total += MoneyScore
		if rationale == "" {
			rationale = RationaleMoney
		}
	}
	if hits >= 2 {
		total += MultiCueBonus
	}

	if total > 100 {
		total = 100
	}
	return models.TextSignal{Score: total, Rationale: rationale}
}
