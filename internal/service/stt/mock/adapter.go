// Package mock provides a mock STT adapter for running calls without cloud
// credentials. It plays a scripted call per locale: progressive partial
// transcripts, exactly one final per utterance, then end-of-utterance.
package mock

import (
	"context"
	"sync"
	"time"

	"voice-risk-service/internal/models"
	"voice-risk-service/internal/service/stt"
)

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials   []string // Progressive partial transcripts
	Final      string   // Final transcript text
	Confidence float64  // Confidence score for final
}

// DefaultScripts holds one scripted call per supported locale. The calls start
// benign and escalate into a typical one-time-code scam.
var DefaultScripts = map[models.Locale][]SimulatedUtterance{
	models.LocaleEnUS: {
		{
			Partials:   []string{"Hello", "Hello this is", "Hello this is your bank"},
			Final:      "Hello this is your bank security department",
			Confidence: 0.93,
		},
		{
			Partials:   []string{"We noticed", "We noticed a payment", "We noticed a payment it is urgent"},
			Final:      "We noticed a suspicious payment and it is urgent",
			Confidence: 0.9,
		},
		{
			Partials:   []string{"Please read", "Please read me your", "Please read me your one-time code"},
			Final:      "Please read me your one-time code",
			Confidence: 0.95,
		},
	},
	models.LocaleEsES: {
		{
			Partials:   []string{"Hola", "Hola le llamamos", "Hola le llamamos de su banco"},
			Final:      "Hola le llamamos de su banco",
			Confidence: 0.92,
		},
		{
			Partials:   []string{"Es urgente", "Es urgente verificar", "Es urgente verificar una transferencia"},
			Final:      "Es urgente verificar una transferencia",
			Confidence: 0.9,
		},
		{
			Partials:   []string{"Dime", "Dime tu", "Dime tu código"},
			Final:      "Dime tu código",
			Confidence: 0.94,
		},
	},
	models.LocaleFrFR: {
		{
			Partials:   []string{"Bonjour", "Bonjour ici votre", "Bonjour ici votre banque"},
			Final:      "Bonjour ici votre banque",
			Confidence: 0.92,
		},
		{
			Partials:   []string{"C'est urgent", "C'est urgent un virement", "C'est urgent un virement suspect"},
			Final:      "C'est urgent un virement suspect",
			Confidence: 0.9,
		},
		{
			Partials:   []string{"Partage", "Partage moi ton", "Partage moi ton code"},
			Final:      "Partage moi ton code",
			Confidence: 0.94,
		},
	},
}

// BenignScript is a harmless call, used to exercise the safe path.
var BenignScript = []SimulatedUtterance{
	{
		Partials:   []string{"Hi", "Hi it's me", "Hi it's me about dinner"},
		Final:      "Hi it's me about dinner on Friday",
		Confidence: 0.97,
	},
	{
		Partials:   []string{"Can you", "Can you bring", "Can you bring dessert"},
		Final:      "Can you bring dessert",
		Confidence: 0.96,
	},
}

type eventKind int

const (
	eventPartial eventKind = iota
	eventFinal
)

type event struct {
	kind       eventKind
	text       string
	confidence float64
}

// Option configures the mock adapter.
type Option func(*Adapter)

// WithScript replaces the locale script.
func WithScript(script []SimulatedUtterance) Option {
	return func(a *Adapter) { a.script = script }
}

// WithFramesPerStep makes the adapter advance one partial every n audio frames.
func WithFramesPerStep(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.framesPerStep = n
		}
	}
}

// WithDelay sets the simulated processing delay before each callback.
func WithDelay(d time.Duration) Option {
	return func(a *Adapter) { a.delay = d }
}

// Adapter implements stt.Adapter with scripted responses.
type Adapter struct {
	cb            stt.Callback
	mu            sync.Mutex
	script        []SimulatedUtterance
	framesPerStep int
	delay         time.Duration
	events        chan event
	done          chan struct{}

	audioReceived int // Count of audio frames received
	utterance     int // Index of the utterance being simulated
	partialIndex  int // Next partial to send
	finalSent     bool
	closed        bool
}

// New creates a mock adapter playing the script for locale.
func New(locale models.Locale, opts ...Option) *Adapter {
	script, ok := DefaultScripts[locale]
	if !ok {
		script = DefaultScripts[models.DefaultLocale]
	}
	a := &Adapter{
		script:        script,
		framesPerStep: 1,
		delay:         50 * time.Millisecond,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Start begins a mock transcription session.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cb != nil || a.closed {
		return nil
	}
	a.cb = cb
	a.events = make(chan event, 64)
	a.done = make(chan struct{})
	go a.deliver(cb, a.events, a.done)
	return nil
}

// deliver invokes callbacks in order outside the adapter lock.
func (a *Adapter) deliver(cb stt.Callback, events <-chan event, done chan<- struct{}) {
	defer close(done)
	for ev := range events {
		if a.delay > 0 {
			time.Sleep(a.delay)
		}
		switch ev.kind {
		case eventPartial:
			cb.OnPartial(ev.text)
		case eventFinal:
			cb.OnFinal(ev.text, ev.confidence)
			cb.OnEndOfUtterance()
		}
	}
}

// SendAudio simulates receiving audio and advances the script.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.cb == nil {
		return nil
	}

	a.audioReceived++
	if a.audioReceived%a.framesPerStep != 0 || a.utterance >= len(a.script) {
		return nil
	}

	utt := a.script[a.utterance]
	if a.partialIndex < len(utt.Partials) {
		a.enqueue(event{kind: eventPartial, text: utt.Partials[a.partialIndex]})
		a.partialIndex++
		return nil
	}

	// All partials sent: simulate end of utterance and move on.
	a.enqueue(event{kind: eventFinal, text: utt.Final, confidence: utt.Confidence})
	a.finalSent = true
	a.utterance++
	a.partialIndex = 0
	if a.utterance < len(a.script) {
		a.finalSent = false
	}
	return nil
}

func (a *Adapter) enqueue(ev event) {
	select {
	case a.events <- ev:
	default:
		// Slow consumer; a real provider would drop interim results too.
	}
}

// Close ends the mock session. If the current utterance has partials but no
// final yet, its final is delivered before the adapter stops.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true

	if a.cb == nil {
		a.mu.Unlock()
		return nil
	}
	if !a.finalSent && a.utterance < len(a.script) {
		utt := a.script[a.utterance]
		a.enqueue(event{kind: eventFinal, text: utt.Final, confidence: utt.Confidence})
		a.finalSent = true
	}
	close(a.events)
	a.mu.Unlock()
	return nil
}

// Wait blocks until every queued callback has been delivered after Close.
func (a *Adapter) Wait() {
	a.mu.Lock()
	done := a.done
	a.mu.Unlock()
	if done != nil {
		<-done
	}
}
