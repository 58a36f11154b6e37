package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := DefaultAppConfig()

	if cfg.Server.Port != 37003 {
		t.Fatalf("Port = %d, want 37003", cfg.Server.Port)
	}
	if cfg.Session.ICEGatherTimeout != 5*time.Second {
		t.Fatalf("ICEGatherTimeout = %v, want 5s", cfg.Session.ICEGatherTimeout)
	}
	if cfg.Session.TrackTimeout != 10*time.Second {
		t.Fatalf("TrackTimeout = %v, want 10s", cfg.Session.TrackTimeout)
	}
	if len(cfg.WebRTC.Codecs) == 0 {
		t.Fatal("no default codecs")
	}
	if len(cfg.WebRTC.PeerConnectionConfig.ICEServers) == 0 {
		t.Fatal("no default ICE servers")
	}
}

func TestOptions(t *testing.T) {
	cfg := NewAppConfig(
		WithServerPort(9000),
		WithPublicIP("203.0.113.7"),
		WithTrackTimeout(3*time.Second),
		WithTLS("crt.pem", "key.pem"),
	)

	if cfg.Server.Port != 9000 {
		t.Fatalf("Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Server.PublicIP != "203.0.113.7" {
		t.Fatalf("PublicIP = %q", cfg.Server.PublicIP)
	}
	if cfg.Session.TrackTimeout != 3*time.Second {
		t.Fatalf("TrackTimeout = %v, want 3s", cfg.Session.TrackTimeout)
	}
	if cfg.Server.TLSCrtFile == nil || *cfg.Server.TLSCrtFile != "crt.pem" {
		t.Fatalf("TLSCrtFile = %v", cfg.Server.TLSCrtFile)
	}
}

func TestLoadAppConfigMissingDir(t *testing.T) {
	cfg, err := LoadAppConfig(filepath.Join(t.TempDir(), "nothing-here"))
	if err != nil {
		t.Fatalf("LoadAppConfig: %v", err)
	}
	if cfg.Server.Port != DefaultAppConfig().Server.Port {
		t.Fatal("missing config dir should yield pure defaults")
	}
}

func TestLoadAppConfigMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()

	writeFile(t, dir, "server.yaml", "port: 9999\npublicIp: 198.51.100.2\n")
	writeFile(t, dir, "session.yaml", "trackTimeoutMs: 2500\n")

	cfg, err := LoadAppConfig(dir)
	if err != nil {
		t.Fatalf("LoadAppConfig: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Fatalf("Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Server.PublicIP != "198.51.100.2" {
		t.Fatalf("PublicIP = %q", cfg.Server.PublicIP)
	}
	if cfg.Session.TrackTimeout != 2500*time.Millisecond {
		t.Fatalf("TrackTimeout = %v, want 2.5s", cfg.Session.TrackTimeout)
	}

	// Keys absent from the files keep their compiled defaults.
	if cfg.Session.ICEGatherTimeout != 5*time.Second {
		t.Fatalf("ICEGatherTimeout = %v, want untouched default", cfg.Session.ICEGatherTimeout)
	}
	if len(cfg.WebRTC.Codecs) == 0 {
		t.Fatal("codec defaults lost during merge")
	}
}

func TestLoadAppConfigJSONFallback(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "server.json", `{"port": 8443}`)

	cfg, err := LoadAppConfig(dir)
	if err != nil {
		t.Fatalf("LoadAppConfig: %v", err)
	}
	if cfg.Server.Port != 8443 {
		t.Fatalf("Port = %d, want 8443", cfg.Server.Port)
	}
}

func TestLoadAppConfigEmptyFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "session.yaml", "")

	cfg, err := LoadAppConfig(dir)
	if err != nil {
		t.Fatalf("LoadAppConfig: %v", err)
	}
	if cfg.Session.TrackTimeout != 10*time.Second {
		t.Fatalf("TrackTimeout = %v, want default", cfg.Session.TrackTimeout)
	}
}

func TestParseCodecsAddsVideoFeedback(t *testing.T) {
	raw := RawCodec{Type: "video"}
	raw.Params.MimeType = "video/VP8"
	raw.Params.ClockRate = 90000
	raw.Params.PayloadType = 96

	codecs := parseCodecs([]RawCodec{raw})
	if len(codecs) != 1 {
		t.Fatalf("got %d codecs", len(codecs))
	}
	if len(codecs[0].Params.RTCPFeedback) == 0 {
		t.Fatal("video codec lost its RTCP feedback entries")
	}

	audio := RawCodec{Type: "audio"}
	audio.Params.MimeType = "audio/opus"
	audio.Params.ClockRate = 48000
	audio.Params.PayloadType = 111

	codecs = parseCodecs([]RawCodec{audio})
	if len(codecs[0].Params.RTCPFeedback) != 0 {
		t.Fatal("audio codec should carry no RTCP feedback")
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
