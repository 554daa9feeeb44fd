//go:build !rnnoise

package noise

// Gate behavior for the fallback denoiser: a frame whose RMS stays under
// gateThreshold after the hold runs out is zeroed outright. The hold keeps
// the tail of quiet speech alive across short pauses.
const (
	gateThreshold = 0.01 // linear RMS, ~-40 dBFS
	gateHold      = 20   // frames, 200 ms at the 10 ms frame size
)

// fallbackSuppressor approximates denoising with a hard noise gate and
// estimates speech probability from the frame's RMS level and zero-crossing
// rate, used when the real RNNoise capability is not compiled in.
type fallbackSuppressor struct {
	core
	gateRemaining int
	scratch       []float32
	original      []float32
}

func newSuppressor() Suppressor {
	return &fallbackSuppressor{
		core:     newCore(),
		scratch:  make([]float32, FrameSize),
		original: make([]float32, FrameSize),
	}
}

func (f *fallbackSuppressor) Process(frame []int16) {
	if len(frame) != FrameSize {
		return
	}

	f.mu.Lock()
	level := f.suppressionLevel
	f.mu.Unlock()

	for i, s := range frame {
		v := float32(s) / 32768.0
		f.scratch[i] = v
		f.original[i] = v
	}

	rms := rmsOf(f.original)
	f.applyGate(rms)
	zcr := zeroCrossingRate(f.original)

	// High level and low zero-crossing rate read as voiced; hissy wideband
	// noise crosses zero roughly every sample and is discounted.
	normRMS := clamp01(rms / 0.3)
	speechProb := clamp01(normRMS * (1 - 0.5*clamp01(zcr)))

	for i := range frame {
		blended := f.original[i]*float32(1-level) + f.scratch[i]*float32(level)
		frame[i] = clampSample16(float64(blended) * 32768.0)
	}

	f.postProcess(frame, rms, speechProb)
}

// applyGate zeroes f.scratch once the level has stayed under gateThreshold
// past the hold period; any frame at or above the threshold re-arms the
// hold.
func (f *fallbackSuppressor) applyGate(rms float64) {
	if rms >= gateThreshold {
		f.gateRemaining = gateHold
		return
	}
	if f.gateRemaining > 0 {
		f.gateRemaining--
		return
	}
	for i := range f.scratch {
		f.scratch[i] = 0
	}
}

func (f *fallbackSuppressor) Close() error { return nil }
