package main

import "go.uber.org/zap"

// newLogger builds the process-wide zap.Logger: a console-encoded,
// human-readable logger at info level by default, or debug level under
// --verbose. There is no log file or remote sink; nothing is persisted.
func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg.DisableStacktrace = true
	return cfg.Build()
}
