// Package worker runs the per-camera pipelines and the supervisor that
// reconciles them against the camera table. Each camera gets one
// goroutine that owns its source and stream loop; inference runs as
// detached tasks admitted through a per-camera single-flight gate.
package worker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/technosupport/ts-siteguard/internal/config"
	"github.com/technosupport/ts-siteguard/internal/data"
	"github.com/technosupport/ts-siteguard/internal/vision"
)

// Worker states. Store mirroring maps idle/stopped onto offline.
const (
	StateIdle       = "idle"
	StateConnecting = "connecting"
	StateStreaming  = "streaming"
	StateError      = "error"
	StateStopped    = "stopped"
)

// emaAlpha weights the instantaneous FPS sample in the moving averages.
const emaAlpha = 0.2

// Runtime is the mutable per-camera state shared between the stream
// loop, the inference task and the supervisor. The camera config and
// the scalar counters sit behind the mutex; the detection list is an
// atomically swapped immutable slice so the annotator never observes a
// torn update.
type Runtime struct {
	mu  sync.Mutex
	cam data.Camera

	state     string
	lastError string

	framesProcessed int64
	lastFrameAt     time.Time
	lastDispatchAt  time.Time
	lastInferredAt  time.Time
	streamFPS       float64
	inferFPS        float64

	detections atomic.Pointer[[]vision.Detection]
	inferBusy  atomic.Bool
}

// NewRuntime snapshots the camera row into a fresh runtime.
func NewRuntime(cam *data.Camera) *Runtime {
	r := &Runtime{cam: *cam, state: StateIdle}
	empty := []vision.Detection{}
	r.detections.Store(&empty)
	return r
}

// Camera returns a copy of the current config snapshot.
func (r *Runtime) Camera() data.Camera {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cam
}

// ApplyConfig swaps in a new camera revision. Only called by the
// supervisor for changes that do not require a source restart; the
// stream loop re-reads the snapshot every iteration.
func (r *Runtime) ApplyConfig(cam *data.Camera) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cam = *cam
}

// State returns the current worker state.
func (r *Runtime) State() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// setState transitions the state machine and records the error message
// accompanying error states.
func (r *Runtime) setState(state, lastErr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
	r.lastError = lastErr
}

// LastError returns the most recent error message.
func (r *Runtime) LastError() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastError
}

// Detections returns the latest completed inference result. The slice
// is immutable; callers must not modify it.
func (r *Runtime) Detections() []vision.Detection {
	return *r.detections.Load()
}

// SetDetections publishes a new detection list via pointer swap.
func (r *Runtime) SetDetections(dets []vision.Detection) {
	r.detections.Store(&dets)
}

// TickFrame accounts one published frame and folds the instantaneous
// rate into the stream FPS average. Returns the updated average.
func (r *Runtime) TickFrame(now time.Time) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.framesProcessed++
	if !r.lastFrameAt.IsZero() {
		if dt := now.Sub(r.lastFrameAt).Seconds(); dt > 0 {
			r.streamFPS = ema(r.streamFPS, 1/dt)
		}
	}
	r.lastFrameAt = now
	return r.streamFPS
}

// FramesProcessed returns the frame counter.
func (r *Runtime) FramesProcessed() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.framesProcessed
}

// TryBeginInference is the per-camera admission gate: it succeeds only
// when the inference interval has elapsed and no task is in flight.
// On success the in-flight marker is held until EndInference.
func (r *Runtime) TryBeginInference(now time.Time) bool {
	r.mu.Lock()
	targetFPS := r.cam.TargetFPS
	last := r.lastDispatchAt
	r.mu.Unlock()

	if targetFPS <= 0 {
		targetFPS = 0.5
	}
	interval := time.Duration(float64(time.Second) / targetFPS)
	if !last.IsZero() && now.Sub(last) < interval {
		return false
	}
	if !r.inferBusy.CompareAndSwap(false, true) {
		return false
	}

	r.mu.Lock()
	r.lastDispatchAt = now
	r.mu.Unlock()
	return true
}

// EndInference clears the in-flight marker. Always runs, error or not.
func (r *Runtime) EndInference() {
	r.inferBusy.Store(false)
}

// InferenceInFlight reports whether a task currently holds the gate.
func (r *Runtime) InferenceInFlight() bool {
	return r.inferBusy.Load()
}

// TickInference folds one completed pass into the inference FPS average.
func (r *Runtime) TickInference(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.lastInferredAt.IsZero() {
		if dt := now.Sub(r.lastInferredAt).Seconds(); dt > 0 {
			r.inferFPS = ema(r.inferFPS, 1/dt)
		}
	}
	r.lastInferredAt = now
}

// Meta returns the live metadata published to the camera_meta hash.
func (r *Runtime) Meta() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]any{
		"stream_fps":    formatFPS(r.streamFPS),
		"inference_fps": formatFPS(r.inferFPS),
		"detections":    len(*r.detections.Load()),
		"state":         r.state,
	}
}

// InferenceSize returns the camera's clamped inference frame size.
func (r *Runtime) InferenceSize() (w, h int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return config.ClampInferenceSize(r.cam.InferenceWidth),
		config.ClampInferenceSize(r.cam.InferenceHeight)
}

func ema(prev, sample float64) float64 {
	if prev == 0 {
		return sample
	}
	return emaAlpha*sample + (1-emaAlpha)*prev
}

func formatFPS(v float64) float64 {
	// Two decimals is plenty for a dashboard counter.
	return float64(int(v*100)) / 100
}
