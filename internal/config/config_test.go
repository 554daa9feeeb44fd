package config_test

import (
	"testing"

	"github.com/resulsrky/nova-voice-engine-v2/internal/config"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()
	if !cfg.EnableNoiseSuppression || !cfg.EnableCodec || !cfg.EnableBitrateAdaptation ||
		!cfg.EnableVAD || !cfg.EnableAGC {
		t.Error("expected every flag except echo cancellation to default true")
	}
	if cfg.EnableEchoCancellation {
		t.Error("expected echo cancellation to default false")
	}
	if cfg.TargetBitrate < 3200 || cfg.TargetBitrate > 9200 {
		t.Errorf("default target bitrate out of range: %d", cfg.TargetBitrate)
	}
}

func TestLowLatencyProfile(t *testing.T) {
	cfg := config.LowLatency()
	if cfg.EnableNoiseSuppression || cfg.EnableVAD {
		t.Error("low-latency profile must disable noise suppression and VAD")
	}
	if cfg.TargetBitrate != 9200 {
		t.Errorf("low-latency profile expected max bitrate, got %d", cfg.TargetBitrate)
	}
}

func TestHighQualityProfile(t *testing.T) {
	cfg := config.HighQuality()
	if !cfg.EnableNoiseSuppression || !cfg.EnableVAD || !cfg.EnableAGC {
		t.Error("high-quality profile must enable all processing stages")
	}
	if cfg.TargetBitrate != 9200 {
		t.Errorf("high-quality profile expected max bitrate, got %d", cfg.TargetBitrate)
	}
}

func TestPowerSaveProfile(t *testing.T) {
	cfg := config.PowerSave()
	if cfg.EnableAGC {
		t.Error("power-save profile must disable AGC")
	}
	if !cfg.EnableNoiseSuppression || !cfg.EnableVAD {
		t.Error("power-save profile must keep noise suppression and VAD enabled")
	}
	if cfg.TargetBitrate != 3200 {
		t.Errorf("power-save profile expected min bitrate, got %d", cfg.TargetBitrate)
	}
}

func TestNoProfileEnablesEchoCancellation(t *testing.T) {
	for _, cfg := range []config.Config{config.Default(), config.LowLatency(), config.HighQuality(), config.PowerSave()} {
		if cfg.EnableEchoCancellation {
			t.Error("no profile may enable echo cancellation")
		}
	}
}
