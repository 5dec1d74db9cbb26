package vision_test

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/technosupport/ts-siteguard/internal/vision"
)

func busyFrame(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 3), uint8(y * 5), uint8((x + y) * 2), 255})
		}
	}
	return img
}

func TestSharedModelDeterministic(t *testing.T) {
	m := vision.NewSharedModel(filepath.Join(t.TempDir(), "missing.onnx"))
	frame := busyFrame(320, 320)

	a, err := m.Predict(context.Background(), frame, 0.25)
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Predict(context.Background(), frame, 0.25)
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != len(b) {
		t.Fatalf("non-deterministic detection count: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("detection %d differs between runs", i)
		}
	}
}

func TestSharedModelConfidenceFloor(t *testing.T) {
	m := vision.NewSharedModel(filepath.Join(t.TempDir(), "missing.onnx"))
	dets, err := m.Predict(context.Background(), busyFrame(320, 320), 0.9)
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range dets {
		if d.Confidence < 0.9 {
			t.Errorf("detection below threshold: %v", d.Confidence)
		}
	}
}

func TestSharedModelTinyFrame(t *testing.T) {
	m := vision.NewSharedModel(filepath.Join(t.TempDir(), "missing.onnx"))
	dets, err := m.Predict(context.Background(), busyFrame(16, 16), 0.25)
	if err != nil {
		t.Fatal(err)
	}
	if len(dets) != 0 {
		t.Errorf("tiny frame produced %d detections", len(dets))
	}
}

func TestSharedModelCancelledContext(t *testing.T) {
	m := vision.NewSharedModel(filepath.Join(t.TempDir(), "missing.onnx"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Predict(ctx, busyFrame(320, 320), 0.25); err == nil {
		t.Error("expected context error")
	}
}

func TestSharedModelReload(t *testing.T) {
	dir := t.TempDir()
	weights := filepath.Join(dir, "ppe.onnx")

	m := vision.NewSharedModel(weights)
	if m.Loaded() {
		t.Fatal("model should start unloaded without weights")
	}

	if err := os.WriteFile(weights, []byte("stub weights"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !m.Loaded() {
		t.Fatal("model should be loaded after weights appear")
	}

	if err := os.Remove(weights); err != nil {
		t.Fatal(err)
	}
	if err := m.Reload(); err == nil {
		t.Error("reload of removed weights should error")
	}
	if m.Loaded() {
		t.Error("model should be unloaded after weights removed")
	}
}

func TestSharedModelConcurrentPredict(t *testing.T) {
	m := vision.NewSharedModel(filepath.Join(t.TempDir(), "missing.onnx"))
	frame := busyFrame(320, 320)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Predict(context.Background(), frame, 0.25); err != nil {
				t.Errorf("predict: %v", err)
			}
		}()
	}
	wg.Wait()
}
