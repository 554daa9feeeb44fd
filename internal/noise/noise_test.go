//go:build !rnnoise

package noise

import "testing"

func tone(n int, amplitude int16) []int16 {
	frame := make([]int16, n)
	for i := range frame {
		if i%2 == 0 {
			frame[i] = amplitude
		} else {
			frame[i] = -amplitude
		}
	}
	return frame
}

func TestNewRejectsUnsupportedRate(t *testing.T) {
	if _, err := New(16000); err != ErrUnsupportedSampleRate {
		t.Errorf("New(16000): got %v, want ErrUnsupportedSampleRate", err)
	}
}

func TestProcessIgnoresWrongFrameLength(t *testing.T) {
	s, err := New(SampleRate)
	if err != nil {
		t.Fatal(err)
	}
	frame := make([]int16, FrameSize-1)
	s.Process(frame) // must not panic or mutate length
	if len(frame) != FrameSize-1 {
		t.Fatalf("frame length changed: got %d", len(frame))
	}
	if m := s.Metrics(); m.FrameCount != 0 {
		t.Errorf("FrameCount after rejected frame: got %d, want 0", m.FrameCount)
	}
}

func TestSilentFrameIsGatedToZero(t *testing.T) {
	s, err := New(SampleRate)
	if err != nil {
		t.Fatal(err)
	}
	frame := make([]int16, FrameSize) // all zeros: below any RMS threshold
	s.Process(frame)

	for i, v := range frame {
		if v != 0 {
			t.Fatalf("sample %d: got %d, want 0 for a silent gated frame", i, v)
		}
	}
}

func TestLoudToneIsTreatedAsSpeech(t *testing.T) {
	s, err := New(SampleRate)
	if err != nil {
		t.Fatal(err)
	}
	// A loud low-frequency square wave: high RMS, low zero-crossing rate,
	// which is what the speech-probability heuristic treats as voiced.
	frame := make([]int16, FrameSize)
	for i := range frame {
		if (i/16)%2 == 0 {
			frame[i] = 20000
		} else {
			frame[i] = -20000
		}
	}
	s.Process(frame)

	if !s.IsSpeech() {
		t.Error("loud low-frequency tone: IsSpeech() got false, want true")
	}
	m := s.Metrics()
	if m.FrameCount != 1 {
		t.Errorf("FrameCount: got %d, want 1", m.FrameCount)
	}
}

// TestGateHoldKeepsQuietTailAlive: after a loud frame re-arms the gate's
// hold, a quiet-but-nonzero frame passes through (VAD-attenuated, not
// zeroed); once the hold runs out, the same quiet frame is gated to zero.
func TestGateHoldKeepsQuietTailAlive(t *testing.T) {
	s, err := New(SampleRate)
	if err != nil {
		t.Fatal(err)
	}

	loud := tone(FrameSize, 20000)
	s.Process(loud)

	quiet := make([]int16, FrameSize)
	for i := range quiet {
		quiet[i] = 100 // well under the gate threshold, but not silence
	}

	first := append([]int16(nil), quiet...)
	s.Process(first)
	allZero := true
	for _, v := range first {
		if v != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		t.Fatal("quiet frame inside the hold period was gated to zero")
	}

	for i := 0; i < gateHold+1; i++ {
		s.Process(append([]int16(nil), quiet...))
	}
	last := append([]int16(nil), quiet...)
	s.Process(last)
	for i, v := range last {
		if v != 0 {
			t.Fatalf("sample %d: got %d, want 0 once the hold expired", i, v)
		}
	}
}

func TestSetSuppressionLevelClamps(t *testing.T) {
	s, err := New(SampleRate)
	if err != nil {
		t.Fatal(err)
	}
	fs := s.(*fallbackSuppressor)
	for _, in := range []float64{-1, 0, 0.5, 1, 2} {
		fs.SetSuppressionLevel(in)
		fs.mu.Lock()
		got := fs.suppressionLevel
		fs.mu.Unlock()
		want := clamp01(in)
		if got != want {
			t.Errorf("SetSuppressionLevel(%v): got %v, want %v", in, got, want)
		}
	}
}

func TestDisablingVADSkipsAttenuation(t *testing.T) {
	s, err := New(SampleRate)
	if err != nil {
		t.Fatal(err)
	}
	s.EnableVAD(false)
	s.SetThreshold(0.99) // would gate almost everything if VAD were active

	frame := tone(FrameSize, 20000)
	before := append([]int16(nil), frame...)
	s.Process(frame)

	// With VAD disabled, the fixed 0.1 attenuation must not be applied; the
	// gate/blend path may still adjust samples, but not by the VAD factor.
	allTenth := true
	for i := range frame {
		if frame[i] != int16(float64(before[i])*vadAttenuation) {
			allTenth = false
			break
		}
	}
	if allTenth {
		t.Error("frame was attenuated by the VAD factor despite EnableVAD(false)")
	}
}

func TestZeroCrossingRate(t *testing.T) {
	cases := []struct {
		name  string
		frame []float32
		want  float64
	}{
		{"empty", nil, 0},
		{"single", []float32{1}, 0},
		{"constant", []float32{1, 1, 1, 1}, 0},
		{"alternating", []float32{1, -1, 1, -1}, 1},
	}
	for _, c := range cases {
		if got := zeroCrossingRate(c.frame); got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, got, c.want)
		}
	}
}
