// Package noise implements the NoiseSuppressor capability: per-frame denoise
// plus a running speech-probability estimate, backed by RNNoise when built
// with the "rnnoise" tag and by a noise-gate-and-heuristics fallback
// otherwise. Both variants share the same Suppressor interface, the same
// adaptive/VAD attenuation post-processing, and the same metrics shape.
package noise

import (
	"errors"
	"math"
	"sync"
)

// FrameSize is the fixed work unit NoiseSuppressor operates on: 10 ms at
// 48 kHz.
const FrameSize = 480

// SampleRate is the only rate NoiseSuppressor supports.
const SampleRate = 48000

// vadAttenuation is the fixed factor applied to sub-threshold frames when
// VAD mode is enabled, chosen to avoid audible gate clicks.
const vadAttenuation = 0.1

// ErrUnsupportedSampleRate is returned by New for any rate other than
// SampleRate.
var ErrUnsupportedSampleRate = errors.New("noise: unsupported sample rate")

// Metrics is the point-in-time snapshot returned by Suppressor.Metrics.
type Metrics struct {
	NoiseLevel         float64
	SpeechProbability  float64
	AppliedSuppression float64
	FrameCount         uint64
}

// Suppressor is the NoiseSuppressor capability. Process operates
// in-place on exactly FrameSize samples.
type Suppressor interface {
	Process(frame []int16)
	SetSuppressionLevel(level float64)
	SetThreshold(threshold float64)
	EnableVAD(enabled bool)
	EnableAdaptive(enabled bool)
	Metrics() Metrics
	IsSpeech() bool
	Close() error
}

// New returns the build-selected Suppressor implementation (RNNoise-backed
// when compiled with -tags rnnoise, the fallback otherwise).
func New(sampleRate int) (Suppressor, error) {
	if sampleRate != SampleRate {
		return nil, ErrUnsupportedSampleRate
	}
	return newSuppressor(), nil
}

// core holds the state and post-processing logic shared by every Suppressor
// variant: suppression level, threshold, VAD/adaptive toggles, and the
// running metrics. Variants differ only in how they produce the per-frame
// instantaneous noise estimate and speech probability that core.postProcess
// consumes.
type core struct {
	mu sync.Mutex

	suppressionLevel float64
	threshold        float64
	vadEnabled       bool
	adaptiveEnabled  bool

	noiseLevel         float64
	speechProbability  float64
	appliedSuppression float64
	frameCount         uint64
}

func newCore() core {
	return core{
		suppressionLevel: 1.0,
		threshold:        0.5,
		vadEnabled:       true,
		adaptiveEnabled:  true,
	}
}

func (c *core) SetSuppressionLevel(level float64) {
	c.mu.Lock()
	c.suppressionLevel = clamp01(level)
	c.mu.Unlock()
}

func (c *core) SetThreshold(threshold float64) {
	c.mu.Lock()
	c.threshold = clamp01(threshold)
	c.mu.Unlock()
}

func (c *core) EnableVAD(enabled bool) {
	c.mu.Lock()
	c.vadEnabled = enabled
	c.mu.Unlock()
}

func (c *core) EnableAdaptive(enabled bool) {
	c.mu.Lock()
	c.adaptiveEnabled = enabled
	c.mu.Unlock()
}

func (c *core) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Metrics{
		NoiseLevel:         c.noiseLevel,
		SpeechProbability:  c.speechProbability,
		AppliedSuppression: c.appliedSuppression,
		FrameCount:         c.frameCount,
	}
}

func (c *core) IsSpeech() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speechProbability > c.threshold
}

// postProcess applies adaptive and VAD attenuation to frame in place and
// folds instantNoise/speechProb into the running metrics. Caller
// must not hold c.mu.
func (c *core) postProcess(frame []int16, instantNoise, speechProb float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	applied := 0.0

	if c.adaptiveEnabled && c.noiseLevel > 0 && instantNoise >= c.noiseLevel*1.5 {
		extra := (instantNoise - c.noiseLevel) / c.noiseLevel
		if extra > 0.5 {
			extra = 0.5
		}
		scaleFrame(frame, 1-extra)
		applied = extra
	}

	if c.vadEnabled && speechProb < c.threshold {
		scaleFrame(frame, vadAttenuation)
		if kept := 1 - vadAttenuation; kept > applied {
			applied = kept
		}
	}

	const alpha = 0.1
	if c.frameCount == 0 {
		c.noiseLevel = instantNoise
	} else {
		c.noiseLevel = alpha*instantNoise + (1-alpha)*c.noiseLevel
	}
	c.speechProbability = speechProb
	c.appliedSuppression = applied
	c.frameCount++
}

func scaleFrame(frame []int16, scale float64) {
	for i, s := range frame {
		frame[i] = clampSample16(float64(s) * scale)
	}
}

func clampSample16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func rmsOf(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(frame)))
}

func zeroCrossingRate(frame []float32) float64 {
	if len(frame) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(frame); i++ {
		if (frame[i-1] >= 0) != (frame[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(frame)-1)
}
