package worker

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-siteguard/internal/data"
	"github.com/technosupport/ts-siteguard/internal/vision"
)

func testCamera() *data.Camera {
	return &data.Camera{
		ID:              uuid.New(),
		OrgID:           uuid.New(),
		Name:            "Gate A",
		TargetFPS:       1,
		InferenceWidth:  320,
		InferenceHeight: 320,
	}
}

func TestRuntimeInitialState(t *testing.T) {
	rt := NewRuntime(testCamera())
	require.Equal(t, StateIdle, rt.State())
	require.Empty(t, rt.LastError())
	require.Empty(t, rt.Detections())
	require.False(t, rt.InferenceInFlight())
}

func TestRuntimeInferenceGate(t *testing.T) {
	rt := NewRuntime(testCamera()) // 1 fps target, 1s interval
	t0 := time.Now()

	require.True(t, rt.TryBeginInference(t0), "first admission always passes")
	require.True(t, rt.InferenceInFlight())

	// Interval not elapsed, and the slot is held.
	require.False(t, rt.TryBeginInference(t0.Add(100*time.Millisecond)))

	// Interval elapsed but the slot is still held.
	require.False(t, rt.TryBeginInference(t0.Add(2*time.Second)))

	rt.EndInference()
	require.False(t, rt.InferenceInFlight())

	// Slot free but interval not yet elapsed since the last dispatch.
	require.False(t, rt.TryBeginInference(t0.Add(500*time.Millisecond)))

	require.True(t, rt.TryBeginInference(t0.Add(2*time.Second)))
}

func TestRuntimeGateDefaultsTargetFPS(t *testing.T) {
	cam := testCamera()
	cam.TargetFPS = 0
	rt := NewRuntime(cam)
	t0 := time.Now()

	require.True(t, rt.TryBeginInference(t0))
	rt.EndInference()
	// Zero target falls back to 0.5 fps, a 2s interval.
	require.False(t, rt.TryBeginInference(t0.Add(1900*time.Millisecond)))
	require.True(t, rt.TryBeginInference(t0.Add(2100*time.Millisecond)))
}

func TestRuntimeStreamFPSAverage(t *testing.T) {
	rt := NewRuntime(testCamera())
	t0 := time.Now()

	require.Zero(t, rt.TickFrame(t0), "single sample has no rate yet")

	// Steady 10 fps: the first sample seeds the average, further samples
	// at the same rate leave it unchanged.
	fps := rt.TickFrame(t0.Add(100 * time.Millisecond))
	require.InDelta(t, 10.0, fps, 0.01)
	fps = rt.TickFrame(t0.Add(200 * time.Millisecond))
	require.InDelta(t, 10.0, fps, 0.01)

	// A slow frame drags the average down by the smoothing factor only.
	fps = rt.TickFrame(t0.Add(1200 * time.Millisecond))
	require.InDelta(t, 0.2*1.0+0.8*10.0, fps, 0.01)

	require.Equal(t, int64(4), rt.FramesProcessed())
}

func TestRuntimeDetectionsSwap(t *testing.T) {
	rt := NewRuntime(testCamera())
	dets := []vision.Detection{{ClassID: vision.ClassPerson, Confidence: 0.9}}
	rt.SetDetections(dets)
	require.Len(t, rt.Detections(), 1)

	rt.SetDetections(nil)
	require.Empty(t, rt.Detections())
}

func TestRuntimeMeta(t *testing.T) {
	rt := NewRuntime(testCamera())
	rt.setState(StateStreaming, "")
	rt.SetDetections([]vision.Detection{{}, {}})

	meta := rt.Meta()
	require.Equal(t, StateStreaming, meta["state"])
	require.Equal(t, 2, meta["detections"])
	require.Contains(t, meta, "stream_fps")
	require.Contains(t, meta, "inference_fps")
}

func TestRuntimeInferenceSizeClamped(t *testing.T) {
	cam := testCamera()
	cam.InferenceWidth = 4000
	cam.InferenceHeight = 0
	rt := NewRuntime(cam)

	w, h := rt.InferenceSize()
	require.Equal(t, 400, w)
	require.Equal(t, 320, h)
}

func TestRuntimeApplyConfig(t *testing.T) {
	rt := NewRuntime(testCamera())
	next := testCamera()
	next.Name = "Gate B"
	next.TargetFPS = 2

	rt.ApplyConfig(next)
	got := rt.Camera()
	require.Equal(t, "Gate B", got.Name)
	require.Equal(t, 2.0, got.TargetFPS)
}
