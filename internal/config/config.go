// Package config defines the Preprocessor's in-memory configuration and
// its three canned profiles. Configuration is assembled from CLI flags
// and never written to disk; the system keeps no persisted state.
package config

// Config holds the Preprocessor's feature flags and tunables. Default
// returns every boolean true except EnableEchoCancellation.
type Config struct {
	EnableNoiseSuppression  bool
	EnableCodec             bool
	EnableBitrateAdaptation bool
	EnableVAD               bool
	EnableAGC               bool
	// EnableEchoCancellation is recognized but not implemented; nothing
	// in the Preprocessor reads it as true.
	EnableEchoCancellation bool
	NoiseSuppressionLevel  float64 // [0,1]
	VADThreshold           float64 // [0,1]
	AGCTargetLevel         float64 // [0.1, 2.0]
	TargetBitrate          int     // [3200, 9200]
}

// Default returns the Preprocessor configuration with every flag enabled
// except echo cancellation, and mid-range tunable defaults.
func Default() Config {
	return Config{
		EnableNoiseSuppression:  true,
		EnableCodec:             true,
		EnableBitrateAdaptation: true,
		EnableVAD:               true,
		EnableAGC:               true,
		EnableEchoCancellation:  false,
		NoiseSuppressionLevel:   0.5,
		VADThreshold:            0.5,
		AGCTargetLevel:          0.2,
		TargetBitrate:           6000,
	}
}

// LowLatency favors minimum processing delay: no denoise, no VAD, maximum
// bitrate.
func LowLatency() Config {
	c := Default()
	c.EnableNoiseSuppression = false
	c.EnableVAD = false
	c.TargetBitrate = 9200
	return c
}

// HighQuality enables every processing stage at maximum bitrate.
func HighQuality() Config {
	c := Default()
	c.TargetBitrate = 9200
	return c
}

// PowerSave enables every stage except AGC and runs at minimum bitrate.
func PowerSave() Config {
	c := Default()
	c.EnableAGC = false
	c.TargetBitrate = 3200
	return c
}
