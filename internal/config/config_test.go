package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/technosupport/ts-siteguard/internal/config"
)

func TestDefaults(t *testing.T) {
	cfg := config.Defaults()

	if cfg.SourceMaxRetries != 5 {
		t.Errorf("SourceMaxRetries = %d, want 5", cfg.SourceMaxRetries)
	}
	if cfg.DefaultConfidence != 0.25 {
		t.Errorf("DefaultConfidence = %v, want 0.25", cfg.DefaultConfidence)
	}
	if cfg.DefaultInferenceSize != 320 {
		t.Errorf("DefaultInferenceSize = %d, want 320", cfg.DefaultInferenceSize)
	}
	if cfg.DefaultTargetFPS != 0.5 {
		t.Errorf("DefaultTargetFPS = %v, want 0.5", cfg.DefaultTargetFPS)
	}
	if cfg.StreamFPSMax != 15 {
		t.Errorf("StreamFPSMax = %v, want 15", cfg.StreamFPSMax)
	}
	if cfg.CooldownS != 30 || cfg.DedupGrid != 3 {
		t.Errorf("dedup defaults = %d/%d, want 30/3", cfg.CooldownS, cfg.DedupGrid)
	}
	if cfg.SupervisorRefreshS != 60 {
		t.Errorf("SupervisorRefreshS = %d, want 60", cfg.SupervisorRefreshS)
	}
}

func TestLoadYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "default.yaml")
	body := "stream_fps_max: 10\ncooldown_s: 45\ndemo_video_url: http://example.com/demo.mp4\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StreamFPSMax != 10 {
		t.Errorf("StreamFPSMax = %v, want 10", cfg.StreamFPSMax)
	}
	if cfg.CooldownS != 45 {
		t.Errorf("CooldownS = %d, want 45", cfg.CooldownS)
	}
	if cfg.DemoVideoURL != "http://example.com/demo.mp4" {
		t.Errorf("DemoVideoURL = %q", cfg.DemoVideoURL)
	}
	// Untouched keys keep their defaults.
	if cfg.DedupGrid != 3 {
		t.Errorf("DedupGrid = %d, want 3", cfg.DedupGrid)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StreamFPSMax != 15 {
		t.Errorf("StreamFPSMax = %v, want default 15", cfg.StreamFPSMax)
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.yaml")
	if err := os.WriteFile(path, []byte("stream_fps_max: [oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := config.Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.yaml")
	if err := os.WriteFile(path, []byte("cooldown_s: 45\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("EVENT_COOLDOWN_S", "90")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CooldownS != 90 {
		t.Errorf("CooldownS = %d, want env override 90", cfg.CooldownS)
	}
}

func TestNormalizeClamps(t *testing.T) {
	cfg := config.Defaults()
	cfg.DefaultConfidence = 0.01
	cfg.DefaultInferenceSize = 1280
	cfg.DefaultTargetFPS = -1
	cfg.SourceMaxDelayS = 0
	cfg.SourceBaseDelayS = 2
	cfg.BroadcastQueueDepth = 0
	cfg.Normalize()

	if cfg.DefaultConfidence != 0.1 {
		t.Errorf("confidence clamp = %v, want 0.1", cfg.DefaultConfidence)
	}
	if cfg.DefaultInferenceSize != config.InferenceSizeCap {
		t.Errorf("size clamp = %d, want %d", cfg.DefaultInferenceSize, config.InferenceSizeCap)
	}
	if cfg.DefaultTargetFPS != 0.5 {
		t.Errorf("target fps fallback = %v, want 0.5", cfg.DefaultTargetFPS)
	}
	if cfg.SourceMaxDelayS != cfg.SourceBaseDelayS {
		t.Errorf("max delay below base not lifted: %d < %d", cfg.SourceMaxDelayS, cfg.SourceBaseDelayS)
	}
	if cfg.BroadcastQueueDepth != 5 {
		t.Errorf("queue depth fallback = %d, want 5", cfg.BroadcastQueueDepth)
	}
}

func TestClampConfidence(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{0.0, 0.1},
		{0.1, 0.1},
		{0.25, 0.25},
		{1.0, 1.0},
		{1.5, 1.0},
	}
	for _, tc := range cases {
		if got := config.ClampConfidence(tc.in); got != tc.want {
			t.Errorf("ClampConfidence(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestClampInferenceSize(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 320},
		{-5, 320},
		{16, 32},
		{320, 320},
		{400, 400},
		{640, 400},
	}
	for _, tc := range cases {
		if got := config.ClampInferenceSize(tc.in); got != tc.want {
			t.Errorf("ClampInferenceSize(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
