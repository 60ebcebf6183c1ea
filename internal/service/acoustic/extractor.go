// Package acoustic extracts per-frame acoustic features and the spoof
// likelihood heuristic from paired time/frequency audio frames.
//
// Extract is a pure function: it can be driven by the session tick loop,
// a timer, or a test harness identically.
package acoustic

import (
	"errors"
	"fmt"
	"math"

	"voice-risk-service/internal/models"
)

// ErrMalformedFrame is returned when the frame buffers violate the contract:
// both non-empty and len(timeDomain) == 2*len(freqDB).
var ErrMalformedFrame = errors.New("malformed audio frame")

const (
	// volumeGain scales raw RMS so typical speech spans the 0..1 range.
	volumeGain = 2.5
	// magnitudeFloor keeps the log in the flatness computation finite.
	magnitudeFloor = 1e-8
)

// SpoofWeights are the tunable constants of the spoof heuristic.
// They describe an explainable proxy, not a trained detector.
type SpoofWeights struct {
	Flatness      float64 // weight of the flat-spectrum term
	Centroid      float64 // weight of the mid-range centroid term
	Quietness     float64 // weight of the low-loudness term
	FlatnessGain  float64 // flatness multiplier before clamping
	CentroidScale float64 // Hz mapped to centroidNorm = 1
	CentroidPeak  float64 // centroidNorm considered most synthetic
	RMSGain       float64 // raw RMS multiplier before clamping
}

// DefaultSpoofWeights returns the stock heuristic constants.
func DefaultSpoofWeights() SpoofWeights {
	return SpoofWeights{
		Flatness:      0.6,
		Centroid:      0.3,
		Quietness:     0.1,
		FlatnessGain:  5,
		CentroidScale: 4000,
		CentroidPeak:  0.4,
		RMSGain:       10,
	}
}

// Extractor computes FeatureSamples with a fixed set of spoof weights.
type Extractor struct {
	weights SpoofWeights
}

// NewExtractor creates an extractor using the given weights.
func NewExtractor(w SpoofWeights) *Extractor {
	return &Extractor{weights: w}
}

// Extract computes a FeatureSample using DefaultSpoofWeights.
func Extract(timeDomain, freqDB []float64, sampleRate float64) (models.FeatureSample, error) {
	return NewExtractor(DefaultSpoofWeights()).Extract(timeDomain, freqDB, sampleRate)
}

// Extract computes one FeatureSample from a time-domain frame (samples in
// [-1,1]) and its frequency-domain magnitudes in decibels.
func (e *Extractor) Extract(timeDomain, freqDB []float64, sampleRate float64) (models.FeatureSample, error) {
	if len(timeDomain) == 0 || len(freqDB) == 0 || len(timeDomain) != 2*len(freqDB) {
		return models.FeatureSample{}, fmt.Errorf("%w: %d time samples, %d frequency bins",
			ErrMalformedFrame, len(timeDomain), len(freqDB))
	}
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return models.FeatureSample{}, fmt.Errorf("%w: sample rate %v", ErrMalformedFrame, sampleRate)
	}

	rms := RMS(timeDomain)
	centroid := SpectralCentroid(freqDB, sampleRate)
	flatness := SpectralFlatness(freqDB)

	return models.FeatureSample{
		Volume:           clamp01(rms * volumeGain),
		SpectralCentroid: centroid,
		Flatness:         flatness,
		ZeroCrossRate:    ZeroCrossRate(timeDomain),
		SpoofScore:       e.SpoofScore(flatness, centroid, rms),
	}, nil
}

// SpoofScore combines flatness, centroid and unscaled RMS into a 0..1
// likelihood that the voice is synthetic: flat spectrum, mid-range
// centroid and low loudness score high.
func (e *Extractor) SpoofScore(flatness, centroid, rms float64) float64 {
	w := e.weights
	flatScore := math.Min(1, flatness*w.FlatnessGain)
	centroidNorm := 0.0
	if w.CentroidScale > 0 {
		centroidNorm = math.Min(1, centroid/w.CentroidScale)
	}
	volumeScore := math.Min(1, rms*w.RMSGain)

	spoof := w.Flatness*flatScore +
		w.Centroid*(1-math.Abs(centroidNorm-w.CentroidPeak)) +
		w.Quietness*(1-volumeScore)
	return clamp01(spoof)
}

// RMS returns the root-mean-square of the samples.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range samples {
		sumSq += s * s
	}
	return math.Sqrt(sumSq / float64(len(samples)))
}

// SpectralCentroid returns the magnitude-weighted mean frequency in Hz.
// Bin i of B maps to i*sampleRate/(2B).
func SpectralCentroid(freqDB []float64, sampleRate float64) float64 {
	n := len(freqDB)
	if n == 0 {
		return 0
	}
	var magSum, weighted float64
	for i, db := range freqDB {
		mag := dbToLinear(db)
		freq := float64(i) * sampleRate / (2 * float64(n))
		magSum += mag
		weighted += mag * freq
	}
	if magSum <= magnitudeFloor*float64(n) {
		return 0
	}
	c := weighted / magSum
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	return c
}

// SpectralFlatness returns the geometric over arithmetic mean of the linear
// magnitudes, each floored at 1e-8. 1 is noise-like, near 0 is tonal.
func SpectralFlatness(freqDB []float64) float64 {
	n := len(freqDB)
	if n == 0 {
		return 0
	}
	var logSum, arith float64
	for _, db := range freqDB {
		mag := math.Max(magnitudeFloor, dbToLinear(db))
		logSum += math.Log(mag)
		arith += mag
	}
	geo := math.Exp(logSum / float64(n))
	flat := geo / (arith / float64(n))
	if math.IsNaN(flat) {
		return 0
	}
	return clamp01(flat)
}

// ZeroCrossRate returns the fraction of adjacent sample pairs that change sign.
func ZeroCrossRate(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(samples); i++ {
		prev, cur := samples[i-1], samples[i]
		if (prev <= 0 && cur > 0) || (prev >= 0 && cur < 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples))
}

func dbToLinear(db float64) float64 {
	if math.IsNaN(db) {
		return 0
	}
	// -Inf dB yields exactly 0.
	v := math.Pow(10, db/20)
	if math.IsInf(v, 1) {
		return math.MaxFloat64
	}
	return v
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
