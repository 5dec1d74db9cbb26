// Package config carries the pipeline tuning knobs shared by the worker
// and streamd processes. Values come from built-in defaults, then an
// optional YAML file, then environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Hard ceiling on inference frame size. Larger frames multiply detector
// latency on CPU-only hosts, so per-camera settings are clamped to this
// regardless of what the row says.
const InferenceSizeCap = 400

// Pipeline holds the tunables for ingest, inference, dedup and streaming.
// Field names mirror the YAML keys in config/default.yaml.
type Pipeline struct {
	SourceMaxRetries     int     `yaml:"source_max_retries"`
	SourceBaseDelayS     int     `yaml:"source_base_delay_s"`
	SourceMaxDelayS      int     `yaml:"source_max_delay_s"`
	DefaultConfidence    float64 `yaml:"default_confidence"`
	DefaultInferenceSize int     `yaml:"default_inference_size"`
	DefaultTargetFPS     float64 `yaml:"default_target_fps"`
	StreamFPSMax         float64 `yaml:"stream_fps_max"`
	StreamJPEGQuality    int     `yaml:"stream_jpeg_quality"`
	ThumbJPEGQuality     int     `yaml:"thumbnail_jpeg_quality"`
	CooldownS            int     `yaml:"cooldown_s"`
	DedupGrid            int     `yaml:"dedup_grid"`
	SupervisorRefreshS   int     `yaml:"supervisor_refresh_s"`
	ShutdownGraceS       int     `yaml:"shutdown_grace_s"`
	BroadcastQueueDepth  int     `yaml:"broadcast_queue_depth"`
	DemoVideoURL         string  `yaml:"demo_video_url"`
}

// Defaults returns the stock pipeline configuration.
func Defaults() Pipeline {
	return Pipeline{
		SourceMaxRetries:     5,
		SourceBaseDelayS:     1,
		SourceMaxDelayS:      60,
		DefaultConfidence:    0.25,
		DefaultInferenceSize: 320,
		DefaultTargetFPS:     0.5,
		StreamFPSMax:         15,
		StreamJPEGQuality:    65,
		ThumbJPEGQuality:     70,
		CooldownS:            30,
		DedupGrid:            3,
		SupervisorRefreshS:   60,
		ShutdownGraceS:       5,
		BroadcastQueueDepth:  5,
		DemoVideoURL:         "https://storage.googleapis.com/gtv-videos-bucket/sample/BigBuckBunny.mp4",
	}
}

// Load builds the pipeline configuration. A missing YAML file is not an
// error; a malformed one is.
func Load(path string) (Pipeline, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.Normalize()
	return cfg, nil
}

func (p *Pipeline) applyEnv() {
	p.SourceMaxRetries = getEnvInt("SOURCE_MAX_RETRIES", p.SourceMaxRetries)
	p.SourceBaseDelayS = getEnvInt("SOURCE_BASE_DELAY_S", p.SourceBaseDelayS)
	p.SourceMaxDelayS = getEnvInt("SOURCE_MAX_DELAY_S", p.SourceMaxDelayS)
	p.DefaultConfidence = getEnvFloat("DEFAULT_CONFIDENCE", p.DefaultConfidence)
	p.DefaultInferenceSize = getEnvInt("DEFAULT_INFERENCE_SIZE", p.DefaultInferenceSize)
	p.DefaultTargetFPS = getEnvFloat("DEFAULT_TARGET_FPS", p.DefaultTargetFPS)
	p.StreamFPSMax = getEnvFloat("STREAM_FPS_MAX", p.StreamFPSMax)
	p.StreamJPEGQuality = getEnvInt("STREAM_JPEG_QUALITY", p.StreamJPEGQuality)
	p.ThumbJPEGQuality = getEnvInt("THUMBNAIL_JPEG_QUALITY", p.ThumbJPEGQuality)
	p.CooldownS = getEnvInt("EVENT_COOLDOWN_S", p.CooldownS)
	p.DedupGrid = getEnvInt("DEDUP_GRID", p.DedupGrid)
	p.SupervisorRefreshS = getEnvInt("SUPERVISOR_REFRESH_S", p.SupervisorRefreshS)
	p.ShutdownGraceS = getEnvInt("SHUTDOWN_GRACE_S", p.ShutdownGraceS)
	p.BroadcastQueueDepth = getEnvInt("BROADCAST_QUEUE_DEPTH", p.BroadcastQueueDepth)
	p.DemoVideoURL = getEnv("DEMO_VIDEO_URL", p.DemoVideoURL)
}

// Normalize clamps out-of-range values back into their operating windows
// instead of rejecting them.
func (p *Pipeline) Normalize() {
	if p.SourceMaxRetries < 1 {
		p.SourceMaxRetries = 1
	}
	if p.SourceBaseDelayS < 1 {
		p.SourceBaseDelayS = 1
	}
	if p.SourceMaxDelayS < p.SourceBaseDelayS {
		p.SourceMaxDelayS = p.SourceBaseDelayS
	}
	p.DefaultConfidence = ClampConfidence(p.DefaultConfidence)
	p.DefaultInferenceSize = ClampInferenceSize(p.DefaultInferenceSize)
	if p.DefaultTargetFPS <= 0 {
		p.DefaultTargetFPS = 0.5
	}
	if p.StreamFPSMax <= 0 {
		p.StreamFPSMax = 15
	}
	if p.StreamJPEGQuality < 1 || p.StreamJPEGQuality > 100 {
		p.StreamJPEGQuality = 65
	}
	if p.ThumbJPEGQuality < 1 || p.ThumbJPEGQuality > 100 {
		p.ThumbJPEGQuality = 70
	}
	if p.CooldownS < 1 {
		p.CooldownS = 30
	}
	if p.DedupGrid < 1 {
		p.DedupGrid = 3
	}
	if p.SupervisorRefreshS < 1 {
		p.SupervisorRefreshS = 60
	}
	if p.ShutdownGraceS < 1 {
		p.ShutdownGraceS = 5
	}
	if p.BroadcastQueueDepth < 1 {
		p.BroadcastQueueDepth = 5
	}
}

// ClampConfidence pulls a per-camera confidence threshold into [0.1, 1.0].
func ClampConfidence(v float64) float64 {
	if v < 0.1 {
		return 0.1
	}
	if v > 1.0 {
		return 1.0
	}
	return v
}

// ClampInferenceSize pulls a per-camera inference dimension into
// [32, InferenceSizeCap]. Non-positive values fall back to the stock 320.
func ClampInferenceSize(v int) int {
	if v <= 0 {
		return 320
	}
	if v < 32 {
		return 32
	}
	if v > InferenceSizeCap {
		return InferenceSizeCap
	}
	return v
}

func (p Pipeline) SourceBaseDelay() time.Duration {
	return time.Duration(p.SourceBaseDelayS) * time.Second
}

func (p Pipeline) SourceMaxDelay() time.Duration {
	return time.Duration(p.SourceMaxDelayS) * time.Second
}

func (p Pipeline) Cooldown() time.Duration {
	return time.Duration(p.CooldownS) * time.Second
}

func (p Pipeline) SupervisorRefresh() time.Duration {
	return time.Duration(p.SupervisorRefreshS) * time.Second
}

func (p Pipeline) ShutdownGrace() time.Duration {
	return time.Duration(p.ShutdownGraceS) * time.Second
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
