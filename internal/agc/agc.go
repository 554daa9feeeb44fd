// Package agc implements the Preprocessor's automatic gain control: a single
// smoothed multiplicative gain applied sample-wise to mono float32 PCM,
// clamped and clipped.
package agc

import "math"

// Alpha is the fixed smoothing coefficient in g ← α·(target/rms) + (1−α)·g.
const Alpha = 0.1

// MinGain and MaxGain bound the smoothed gain.
const (
	MinGain = 0.1
	MaxGain = 2.0
)

// DefaultTarget is the default RMS target (agcTargetLevel's default).
const DefaultTarget = 0.20

// minRMS suppresses gain updates on frames at or below the noise floor, so
// silence does not drive the gain toward MaxGain.
const minRMS = 0.001

// AGC is a single-channel automatic gain control processor. Zero value is
// not usable; use New().
type AGC struct {
	target float64 // desired RMS level, agcTargetLevel ∈ [0.1, 2.0]
	gain   float64 // current linear gain multiplier
}

// New returns an AGC at DefaultTarget and unity gain.
func New() *AGC {
	return &AGC{target: DefaultTarget, gain: 1.0}
}

// SetTarget sets the desired RMS level (agcTargetLevel), clamped to
// [MinGain, MaxGain].
func (a *AGC) SetTarget(target float64) {
	if target < MinGain {
		target = MinGain
	}
	if target > MaxGain {
		target = MaxGain
	}
	a.target = target
}

// Target returns the current target RMS level.
func (a *AGC) Target() float64 { return a.target }

// Process applies the current gain to frame in-place, clipping to [-1, 1],
// then updates the smoothed gain estimate from this frame's RMS. Returns
// the same slice for chaining.
func (a *AGC) Process(frame []float32) []float32 {
	if len(frame) == 0 {
		return frame
	}

	// Gain is estimated from the frame's level before scaling, so the loop
	// converges on output RMS == target rather than a geometric mean.
	rms := rmsOf(frame)

	gain := float32(a.gain)
	for i, s := range frame {
		v := s * gain
		if v > 1.0 {
			v = 1.0
		} else if v < -1.0 {
			v = -1.0
		}
		frame[i] = v
	}

	if rms < minRMS {
		return frame
	}

	desired := a.target / rms
	a.gain = Alpha*desired + (1-Alpha)*a.gain
	if a.gain < MinGain {
		a.gain = MinGain
	} else if a.gain > MaxGain {
		a.gain = MaxGain
	}

	return frame
}

// Gain returns the current linear gain multiplier (informational).
func (a *AGC) Gain() float64 { return a.gain }

// Reset resets the gain to unity without changing the target.
func (a *AGC) Reset() { a.gain = 1.0 }

func rmsOf(frame []float32) float64 {
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(frame)))
}
