package sfu

import (
	"testing"

	"github.com/clearspan/screenroom/internal/config"
)

func TestEngineAudioToggle(t *testing.T) {
	for _, tc := range []struct {
		name    string
		disable bool
		want    bool
	}{
		{"audio disabled", true, false},
		{"audio enabled", false, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.NewAppConfig(config.WithDisableAudio(tc.disable)).WebRTC
			engine, err := NewEngine(&cfg, "")
			if err != nil {
				t.Fatalf("NewEngine: %v", err)
			}
			if got := engine.AudioEnabled(); got != tc.want {
				t.Fatalf("AudioEnabled() = %v, want %v", got, tc.want)
			}
		})
	}
}
