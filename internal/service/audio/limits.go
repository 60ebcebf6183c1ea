package audio

import (
	"errors"
	"fmt"
	"time"
)

// ErrLimitExceeded is returned once a stream crosses one of its limits.
var ErrLimitExceeded = errors.New("stream limit exceeded")

// StreamLimits defines safety guardrails for one call stream.
// These prevent unbounded resource usage and ensure backpressure.
type StreamLimits struct {
	MaxAudioBytes int64         // Max audio accepted per stream
	MaxDuration   time.Duration // Max stream duration
}

// DefaultLimits returns sensible default limits.
func DefaultLimits() StreamLimits {
	return StreamLimits{
		MaxAudioBytes: 64 * 1024 * 1024, // ~70 minutes at 8kHz 16-bit mono
		MaxDuration:   time.Hour,
	}
}

// Meter tracks usage of a single stream against its limits.
type Meter struct {
	limits StreamLimits
	start  time.Time
	bytes  int64
	now    func() time.Time
}

// NewMeter starts metering at the current time.
func NewMeter(limits StreamLimits) *Meter {
	return newMeterWithClock(limits, time.Now)
}

func newMeterWithClock(limits StreamLimits, now func() time.Time) *Meter {
	return &Meter{limits: limits, start: now(), now: now}
}

// Add records n bytes and returns ErrLimitExceeded (wrapped with the limit
// type) when a limit is crossed. Zero limits are unlimited.
func (m *Meter) Add(n int) error {
	m.bytes += int64(n)

	if m.limits.MaxAudioBytes > 0 && m.bytes > m.limits.MaxAudioBytes {
		return &LimitError{Type: "audio_bytes", Detail: fmt.Sprintf("%d > %d", m.bytes, m.limits.MaxAudioBytes)}
	}
	if elapsed := m.now().Sub(m.start); m.limits.MaxDuration > 0 && elapsed > m.limits.MaxDuration {
		return &LimitError{Type: "duration", Detail: fmt.Sprintf("%v > %v", elapsed, m.limits.MaxDuration)}
	}
	return nil
}

// Bytes returns the bytes recorded so far.
func (m *Meter) Bytes() int64 {
	return m.bytes
}

// LimitError names the limit that was crossed.
type LimitError struct {
	Type   string
	Detail string
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", ErrLimitExceeded, e.Type, e.Detail)
}

func (e *LimitError) Unwrap() error {
	return ErrLimitExceeded
}
