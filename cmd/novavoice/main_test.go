package main

import (
	"testing"

	"github.com/resulsrky/nova-voice-engine-v2/internal/session"
)

func TestParseArgsPositional(t *testing.T) {
	cfg, _, err := parseArgs([]string{"127.0.0.1", "40000", "40001"})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if cfg.Role != session.RolePeer {
		t.Fatalf("role = %v, want RolePeer", cfg.Role)
	}
	if cfg.RemoteIP != "127.0.0.1" || cfg.LocalPort != 40000 || cfg.RemotePort != 40001 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestParseArgsServer(t *testing.T) {
	cfg, _, err := parseArgs([]string{"-s", "5000"})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if cfg.Role != session.RoleListener || cfg.LocalPort != 5000 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestParseArgsServerDefaultPort(t *testing.T) {
	cfg, _, err := parseArgs([]string{"--server"})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if cfg.LocalPort != defaultClassicPort {
		t.Fatalf("LocalPort = %d, want %d", cfg.LocalPort, defaultClassicPort)
	}
}

func TestParseArgsClient(t *testing.T) {
	cfg, _, err := parseArgs([]string{"-c", "10.0.0.5", "6000"})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if cfg.Role != session.RolePeer || cfg.RemoteIP != "10.0.0.5" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.LocalPort != 6000 || cfg.RemotePort != 6000 {
		t.Fatalf("client mode must set local and remote port equal: %+v", cfg)
	}
}

func TestParseArgsProfile(t *testing.T) {
	cfg, _, err := parseArgs([]string{"-s", "--profile", "low-latency"})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if cfg.Preprocessor.EnableNoiseSuppression {
		t.Fatalf("low-latency profile should disable noise suppression")
	}
	if cfg.Preprocessor.TargetBitrate != 9200 {
		t.Fatalf("low-latency profile should max out bitrate, got %d", cfg.Preprocessor.TargetBitrate)
	}
}

func TestParseArgsUnknownProfile(t *testing.T) {
	if _, _, err := parseArgs([]string{"-s", "--profile", "bogus"}); err == nil {
		t.Fatal("expected error for unknown profile")
	}
}

func TestParseArgsHelp(t *testing.T) {
	_, _, err := parseArgs([]string{"--help"})
	if err != errHelpRequested {
		t.Fatalf("err = %v, want errHelpRequested", err)
	}
}

func TestParseArgsNoInvocation(t *testing.T) {
	if _, _, err := parseArgs([]string{}); err == nil {
		t.Fatal("expected error for no invocation style")
	}
}

func TestParseArgsBadPort(t *testing.T) {
	if _, _, err := parseArgs([]string{"127.0.0.1", "notaport", "40001"}); err == nil {
		t.Fatal("expected error for invalid local_port")
	}
}
