// Package audio turns a stream of LINEAR16 PCM into paired time-domain and
// frequency-domain (dB) analysis frames, and enforces per-stream limits.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrOddPCM is returned when a LINEAR16 chunk has an odd number of bytes.
var ErrOddPCM = errors.New("pcm chunk has odd byte length")

// AnalyserConfig matches a Web Audio AnalyserNode: fftSize and
// smoothingTimeConstant carry the same meaning.
type AnalyserConfig struct {
	FFTSize               int     // power of two, samples per frame
	SmoothingTimeConstant float64 // 0..1, spectral smoothing between frames
	SampleRateHz          int
}

// DefaultAnalyserConfig returns FFT size 2048 with 0.85 smoothing at 8 kHz.
func DefaultAnalyserConfig() AnalyserConfig {
	return AnalyserConfig{
		FFTSize:               2048,
		SmoothingTimeConstant: 0.85,
		SampleRateHz:          8000,
	}
}

// Frame is one paired analysis frame.
type Frame struct {
	TimeDomain []float64 // FFTSize samples in [-1,1], oldest first
	FreqDB     []float64 // FFTSize/2 magnitude bins in dB
	SampleRate float64
}

// Analyser keeps the most recent FFTSize samples and produces frames on demand.
// It is not safe for concurrent use; the session loop owns it.
type Analyser struct {
	cfg      AnalyserConfig
	ring     []float64
	pos      int
	filled   int
	pending  bool
	window   []float64
	smoothed []float64
	re, im   []float64
}

// NewAnalyser validates cfg and allocates the working buffers.
func NewAnalyser(cfg AnalyserConfig) (*Analyser, error) {
	if !isPowerOfTwo(cfg.FFTSize) || cfg.FFTSize < 32 {
		return nil, fmt.Errorf("fft size must be a power of two >= 32, got %d", cfg.FFTSize)
	}
	if cfg.SmoothingTimeConstant < 0 || cfg.SmoothingTimeConstant >= 1 {
		return nil, fmt.Errorf("smoothing time constant must be in [0,1), got %v", cfg.SmoothingTimeConstant)
	}
	if cfg.SampleRateHz <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRateHz)
	}
	return &Analyser{
		cfg:      cfg,
		ring:     make([]float64, cfg.FFTSize),
		window:   blackmanWindow(cfg.FFTSize),
		smoothed: make([]float64, cfg.FFTSize/2),
		re:       make([]float64, cfg.FFTSize),
		im:       make([]float64, cfg.FFTSize),
	}, nil
}

// Config returns the analyser configuration.
func (a *Analyser) Config() AnalyserConfig {
	return a.cfg
}

// Write appends little-endian LINEAR16 samples.
func (a *Analyser) Write(pcm []byte) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("%w: %d bytes", ErrOddPCM, len(pcm))
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(binary.LittleEndian.Uint16(pcm[i:]))
		a.WriteSample(float64(s) / 32768.0)
	}
	return nil
}

// WriteSample appends one normalised sample.
func (a *Analyser) WriteSample(s float64) {
	a.ring[a.pos] = s
	a.pos = (a.pos + 1) % len(a.ring)
	if a.filled < len(a.ring) {
		a.filled++
	}
	a.pending = true
}

// Pending reports whether samples arrived since the last Frame call.
func (a *Analyser) Pending() bool {
	return a.pending
}

// Frame returns the current analysis frame. Until FFTSize samples have been
// written the missing history is zero.
func (a *Analyser) Frame() Frame {
	n := a.cfg.FFTSize
	timeDomain := make([]float64, n)
	for i := 0; i < n; i++ {
		timeDomain[i] = a.ring[(a.pos+i)%n]
	}

	for i := 0; i < n; i++ {
		a.re[i] = timeDomain[i] * a.window[i]
		a.im[i] = 0
	}
	fft(a.re, a.im)

	tau := a.cfg.SmoothingTimeConstant
	freqDB := make([]float64, n/2)
	for k := range freqDB {
		mag := math.Hypot(a.re[k], a.im[k]) / float64(n)
		a.smoothed[k] = tau*a.smoothed[k] + (1-tau)*mag
		freqDB[k] = 20 * math.Log10(a.smoothed[k])
	}

	a.pending = false
	return Frame{
		TimeDomain: timeDomain,
		FreqDB:     freqDB,
		SampleRate: float64(a.cfg.SampleRateHz),
	}
}

// Reset clears the sample history and the smoothing state.
func (a *Analyser) Reset() {
	for i := range a.ring {
		a.ring[i] = 0
	}
	for i := range a.smoothed {
		a.smoothed[i] = 0
	}
	a.pos, a.filled, a.pending = 0, 0, false
}
