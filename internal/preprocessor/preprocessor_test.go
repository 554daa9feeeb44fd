package preprocessor_test

import (
	"testing"

	"github.com/resulsrky/nova-voice-engine-v2/internal/bitrate"
	"github.com/resulsrky/nova-voice-engine-v2/internal/config"
	"github.com/resulsrky/nova-voice-engine-v2/internal/preprocessor"
)

func makeFrame(n int, amplitude int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = amplitude
		} else {
			out[i] = -amplitude
		}
	}
	return out
}

func TestEncodeDecodeRoundTripPassthrough(t *testing.T) {
	cfg := config.Default()
	p, err := preprocessor.New(cfg, nil, preprocessor.WithPassthroughCodec())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	frame := makeFrame(960, 5000) // 20ms @ 48kHz
	pkt, err := p.Encode(42, frame, 48000)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if pkt.Seq != 42 {
		t.Fatalf("expected seq 42, got %d", pkt.Seq)
	}

	out, err := p.Decode(pkt, 48000)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("expected non-empty decoded output")
	}
}

func TestEncodeRawPCMWhenCodecDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.EnableCodec = false
	p, err := preprocessor.New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	frame := makeFrame(960, 1000)
	pkt, err := p.Encode(1, frame, 48000)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if pkt.Bitrate != 0 {
		t.Fatalf("expected bitrate 0 for raw PCM packet, got %d", pkt.Bitrate)
	}

	out, err := p.Decode(pkt, 48000)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out) != len(frame) {
		t.Fatalf("expected raw PCM round trip to preserve length: got %d want %d", len(out), len(frame))
	}
}

func TestDisabledStagesSkipProcessing(t *testing.T) {
	cfg := config.Config{EnableCodec: false}
	p, err := preprocessor.New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	frame := makeFrame(960, 2000)
	got := p.ProcessInput(append([]int16(nil), frame...))
	for i := range got {
		if got[i] != frame[i] {
			t.Fatalf("expected ProcessInput to be a no-op with every stage disabled, differs at %d", i)
		}
	}
}

func TestSpeechChangeCallback(t *testing.T) {
	cfg := config.Default()
	p, err := preprocessor.New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	var flips int
	p.SetOnSpeechChange(func(bool) { flips++ })

	loud := makeFrame(960, 20000)
	for i := 0; i < 5; i++ {
		p.ProcessInput(append([]int16(nil), loud...))
	}
	// No strict assertion on flips count: the fallback suppressor's speech
	// estimate is heuristic. This exercises the callback path without
	// depending on its exact trigger point.
	_ = flips
}

func TestBitrateAdaptationWiresIntoCodec(t *testing.T) {
	cfg := config.Default()
	cfg.TargetBitrate = bitrate.DefaultBitrate
	p, err := preprocessor.New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	p.ReportPacketLoss(0.2)
	p.ReportLatency(900)

	if got := p.BitrateController().Current(); got > bitrate.DefaultBitrate {
		t.Fatalf("expected degraded network to pull bitrate down, got %d", got)
	}
}

func TestBitrateAdaptationDisabledLeavesControllerIdle(t *testing.T) {
	cfg := config.Default()
	cfg.EnableBitrateAdaptation = false
	cfg.TargetBitrate = bitrate.DefaultBitrate
	p, err := preprocessor.New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	before := p.BitrateController().Current()
	p.ReportPacketLoss(0.9)
	p.ReportLatency(900)
	if got := p.BitrateController().Current(); got != before {
		t.Fatalf("expected controller to stay idle when adaptation disabled, got %d want %d", got, before)
	}
}
